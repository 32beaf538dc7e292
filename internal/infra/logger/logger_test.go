package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "prod")
	log.Debug("hidden")
	assert.Zero(t, buf.Len())

	log.Info("reconciliation finished", "changed", 2)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "reconciliation finished", rec["msg"])
	assert.Equal(t, "resto-billing", rec["service"])
	assert.Equal(t, float64(2), rec["changed"])

	buf.Reset()
	NewWithWriter(&buf, "dev").Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Event("TRIAL_STARTED")
	m.Event("TRIAL_STARTED")
	m.Event("EXPIRED")
	m.NotificationFailed()
	m.MirrorFailed()
	m.MirrorFailed()
	m.Sweep("reconcile", 120*time.Millisecond, map[string]int{"changed": 3, "failed": 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("TRIAL_STARTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("EXPIRED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifyFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.mirrorFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepRecords.WithLabelValues("reconcile", "changed")))

	n, err := testutil.GatherAndCount(reg, "billing_sweep_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("X")
		m.NotificationFailed()
		m.MirrorFailed()
		m.Sweep("audit", time.Second, nil)
	})
}

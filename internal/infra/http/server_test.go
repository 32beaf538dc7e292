package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Spok95/resto-billing/internal/billing"
	"github.com/Spok95/resto-billing/internal/domain/restaurants"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
	"github.com/Spok95/resto-billing/internal/infra/metrics"
)

const token = "s3cret"

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type tenants struct {
	mu sync.Mutex
	rs map[int64]restaurants.Restaurant
}

func (t *tenants) Get(_ context.Context, id int64) (*restaurants.Restaurant, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rs[id]
	if !ok {
		return nil, restaurants.ErrNotFound
	}
	return &r, nil
}

func (t *tenants) SetPlan(_ context.Context, id int64, plan subs.Plan) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rs[id]
	if !ok {
		return restaurants.ErrNotFound
	}
	r.Plan = plan
	t.rs[id] = r
	return nil
}

type env struct {
	handler http.Handler
	store   *subs.MemStore
	tenants *tenants
	reg     *prometheus.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	e := &env{
		store:   subs.NewMemStore(),
		tenants: &tenants{rs: map[int64]restaurants.Restaurant{1: {ID: 1, Name: "Pelmeni", Plan: subs.PlanBasic}}},
		reg:     reg,
	}
	engine := billing.New(e.store, e.tenants, nil, billing.DefaultSettings(), log,
		billing.WithClock(func() time.Time { return now }),
		billing.WithMetrics(metrics.New(reg)),
	)
	e.handler = NewHandler(Config{
		ExposeMetrics: true,
		Gatherer:      reg,
		AdminToken:    token,
		Admin:         engine,
		Log:           log,
		Now:           func() time.Time { return now },
	})
	return e
}

func (e *env) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	rec := newEnv(t).do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAdmin_RequiresToken(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/admin/reconcile", "", false).Code)

	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Config{Admin: billing.New(subs.NewMemStore(), &tenants{}, nil, billing.DefaultSettings(), log), Log: log})

	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_Commands(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/admin/restaurants/1/subscription", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[subscriptionResponse](t, rec)
	assert.Equal(t, subs.StatusExpired, got.Subscription.Status)
	assert.False(t, got.Entitled)

	rec = e.do(http.MethodPost, "/admin/restaurants/1/trial", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[subscriptionResponse](t, rec)
	assert.Equal(t, subs.StatusTrialing, got.Subscription.Status)
	assert.True(t, got.Entitled)

	rec = e.do(http.MethodPost, "/admin/restaurants/1/trial", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "trial already used", decode[errorResponse](t, rec).Kind)

	rec = e.do(http.MethodPost, "/admin/restaurants/1/grant", `{"days":30}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[subscriptionResponse](t, rec)
	assert.Equal(t, subs.StatusActive, got.Subscription.Status)
	assert.Equal(t, now.Add(30*24*time.Hour), *got.Subscription.CurrentPeriodEndAt)

	rec = e.do(http.MethodPost, "/admin/restaurants/1/grant", `{"days":0}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/admin/restaurants/1/suspend", `{"reason":"chargeback"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[subscriptionResponse](t, rec).Entitled)
	assert.Equal(t, subs.PlanBasic, e.tenants.rs[1].Plan)

	rec = e.do(http.MethodPost, "/admin/restaurants/1/cancel", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(http.MethodPost, "/admin/restaurants/1/unsuspend", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodPost, "/admin/restaurants/1/expire", `{"reason":"refund"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, subs.StatusExpired, decode[subscriptionResponse](t, rec).Subscription.Status)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/admin/restaurants/1/refund", "", true).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/admin/restaurants/2/trial", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/admin/restaurants/abc/trial", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/admin/restaurants/1/grant", `{"days":`, true).Code)
}

func TestAdmin_EventsAndExports(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/admin/restaurants/1/trial", "", true).Code)

	rec := e.do(http.MethodGet, "/admin/restaurants/1/events", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]subs.Event](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, subs.EventCreated, events[0].Type)
	assert.Equal(t, subs.EventTrialStarted, events[1].Type)

	rec = e.do(http.MethodGet, "/admin/restaurants/1/events?format=xlsx", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "events_1_")
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rec = e.do(http.MethodGet, "/admin/restaurants/9/events", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_ReconcileAndAudit(t *testing.T) {
	e := newEnv(t)
	e.tenants.rs[2] = restaurants.Restaurant{ID: 2, Plan: subs.PlanPro}
	e.store.Put(&subs.Subscription{RestaurantID: 2, Status: subs.StatusExpired, Plan: subs.PlanBasic})

	rec := e.do(http.MethodGet, "/admin/audit", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode[billing.AuditReport](t, rec)
	assert.Equal(t, 1, rep.MismatchesFound)
	assert.Equal(t, 1, rep.MismatchesFixed)

	rec = e.do(http.MethodPost, "/admin/reconcile", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[billing.ReconcileResult](t, rec)
	assert.Equal(t, 1, res.Scanned)
	assert.Zero(t, res.Changed)

	rec = e.do(http.MethodGet, "/admin/audit?format=xlsx", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="audit_20260601_120000.xlsx"`, rec.Header().Get("Content-Disposition"))
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/admin/restaurants/1/trial", "", true).Code)

	rec := e.do(http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `billing_subscription_events_total{type="TRIAL_STARTED"} 1`)
}

func TestStatusFor(t *testing.T) {
	code, kind := statusFor(&billing.Error{Kind: billing.ErrNotSuspended, RestaurantID: 1, Reason: "status is ACTIVE"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "not suspended", kind)

	code, kind = statusFor(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Empty(t, kind)
}

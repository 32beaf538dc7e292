package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	events         *prometheus.CounterVec
	notifyFailures prometheus.Counter
	mirrorFailures prometheus.Counter
	sweepDuration  *prometheus.HistogramVec
	sweepRecords   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "subscription_events_total",
			Help:      "Subscription events appended, by type.",
		}, []string{"type"}),
		notifyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "notification_failures_total",
			Help:      "Owner notifications that could not be delivered.",
		}),
		mirrorFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "mirror_sync_failures_total",
			Help:      "Restaurant plan mirror writes that failed after retries.",
		}),
		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of reconciliation and audit sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		sweepRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "sweep_records_total",
			Help:      "Records visited by sweeps, by job and outcome.",
		}, []string{"job", "outcome"}),
	}
}

func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) MirrorFailed() {
	if m == nil {
		return
	}
	m.mirrorFailures.Inc()
}

// Sweep records one finished sweep. outcomes maps outcome label to record count.
func (m *Metrics) Sweep(job string, took time.Duration, outcomes map[string]int) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(job).Observe(took.Seconds())
	for outcome, n := range outcomes {
		m.sweepRecords.WithLabelValues(job, outcome).Add(float64(n))
	}
}

package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transition outcomes as reported in metrics.
const (
	outcomeSuccess  = "success"
	outcomePartial  = "partial"
	outcomeFailed   = "failed"
	outcomeRejected = "rejected"
)

// Metrics holds the lifecycle collectors.
type Metrics struct {
	transitions   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	auditFailures prometheus.Counter
}

// NewMetrics creates the lifecycle collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doccontrol_transitions_total",
				Help: "Lifecycle transitions by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "doccontrol_transition_duration_seconds",
				Help:    "Time to run a transition including its side effects.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doccontrol_notifications_total",
				Help: "Notification writes by outcome.",
			},
			[]string{"outcome"},
		),
		auditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "doccontrol_audit_failures_total",
				Help: "Audit entries that could not be written.",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.transitions, m.duration, m.notifications, m.auditFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(action, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

func (m *Metrics) fanout(delivered, failed, dangling int) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues("delivered").Add(float64(delivered))
	m.notifications.WithLabelValues("failed").Add(float64(failed))
	m.notifications.WithLabelValues("dangling").Add(float64(dangling))
}

func (m *Metrics) auditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

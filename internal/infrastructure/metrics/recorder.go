// Package metrics exports engine counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
)

// Config holds recorder settings
type Config struct {
	Namespace string
	Registry  prometheus.Registerer
}

// Recorder implements port.MetricsRecorder on Prometheus collectors.
type Recorder struct {
	transitions   *prometheus.CounterVec
	sideEffects   *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// NewRecorder registers the collectors on cfg.Registry, or the default
// registry when none is given.
func NewRecorder(cfg Config) *Recorder {
	if cfg.Namespace == "" {
		cfg.Namespace = "opsflow"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Recorder{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Committed workflow transitions by type and action",
		}, []string{"workflow_type", "action"}),
		sideEffects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "workflow",
			Name:      "side_effects_total",
			Help:      "Side-effect executions by type and result",
		}, []string{"workflow_type", "status"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "escalation",
			Name:      "outcomes_total",
			Help:      "Escalation attempts by outcome",
		}, []string{"outcome"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "notification",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by category and result",
		}, []string{"category", "delivered"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "escalation",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of escalation sweep passes",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

func (r *Recorder) TransitionRecorded(workflowType entity.WorkflowType, action entity.AuditAction) {
	r.transitions.WithLabelValues(string(workflowType), string(action)).Inc()
}

func (r *Recorder) SideEffectRecorded(workflowType entity.WorkflowType, status entity.SideEffectStatus) {
	r.sideEffects.WithLabelValues(string(workflowType), string(status)).Inc()
}

func (r *Recorder) EscalationRecorded(outcome string) {
	r.escalations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) NotificationRecorded(category entity.NotificationCategory, delivered bool) {
	r.notifications.WithLabelValues(string(category), strconv.FormatBool(delivered)).Inc()
}

func (r *Recorder) SweepObserved(duration time.Duration) {
	r.sweepDuration.Observe(duration.Seconds())
}

var _ port.MetricsRecorder = (*Recorder)(nil)

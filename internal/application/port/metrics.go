package port

import (
	"time"

	"github.com/garyjia/opsflow/internal/domain/entity"
)

// MetricsRecorder receives engine counters. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	TransitionRecorded(workflowType entity.WorkflowType, action entity.AuditAction)
	SideEffectRecorded(workflowType entity.WorkflowType, status entity.SideEffectStatus)
	EscalationRecorded(outcome string)
	NotificationRecorded(category entity.NotificationCategory, delivered bool)
	SweepObserved(duration time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) TransitionRecorded(entity.WorkflowType, entity.AuditAction) {}
func (NopMetrics) SideEffectRecorded(entity.WorkflowType, entity.SideEffectStatus) {}
func (NopMetrics) EscalationRecorded(string) {}
func (NopMetrics) NotificationRecorded(entity.NotificationCategory, bool) {}
func (NopMetrics) SweepObserved(time.Duration) {}

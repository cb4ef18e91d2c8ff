// Package deadline computes remediation stage due times from severity.
package deadline

import (
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/opsflow/internal/domain/entity"
)

// StageCount is the number of remediation stages that carry a deadline.
// Closure has none.
const StageCount = 4

var (
	// ErrUnknownSeverity is returned for a severity with no configured offsets
	ErrUnknownSeverity = errors.New("no deadline offsets for severity")

	// ErrNonIncreasing is returned when a tier's offsets are not strictly increasing
	ErrNonIncreasing = errors.New("deadline offsets must be strictly increasing")
)

// Offsets are the immediate-action, root-cause, corrective-action and
// verification offsets from the base time.
type Offsets [StageCount]time.Duration

// Policy maps each severity to its offsets.
type Policy map[entity.Severity]Offsets

const day = 24 * time.Hour

// DefaultPolicy returns the built-in severity tiers.
func DefaultPolicy() Policy {
	return Policy{
		entity.SeverityCritical: {4 * time.Hour, 1 * day, 3 * day, 7 * day},
		entity.SeverityHigh:     {24 * time.Hour, 3 * day, 7 * day, 14 * day},
		entity.SeverityMedium:   {2 * day, 5 * day, 14 * day, 21 * day},
		entity.SeverityLow:      {3 * day, 7 * day, 21 * day, 30 * day},
	}
}

// Validate checks that all four severities are present and every tier is
// strictly increasing and positive.
func (p Policy) Validate() error {
	for _, sev := range []entity.Severity{
		entity.SeverityLow, entity.SeverityMedium, entity.SeverityHigh, entity.SeverityCritical,
	} {
		offsets, ok := p[sev]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSeverity, sev)
		}
		var prev time.Duration
		for i, d := range offsets {
			if d <= prev {
				return fmt.Errorf("%w: %s stage %d", ErrNonIncreasing, sev, i+1)
			}
			prev = d
		}
	}
	return nil
}

// Compute returns one due time per remediation stage, with nil for closure.
// It has no side effects: the same severity and base always yield the same result.
func (p Policy) Compute(severity entity.Severity, base time.Time) ([]*time.Time, error) {
	offsets, ok := p[severity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSeverity, severity)
	}

	due := make([]*time.Time, 0, len(entity.RemediationStages))
	for _, d := range offsets {
		at := base.Add(d)
		due = append(due, &at)
	}
	// closure
	due = append(due, nil)
	return due, nil
}

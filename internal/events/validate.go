package events

import (
	"slices"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

// Task priorities accepted on task.created.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Task statuses accepted on task.status_changed.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusDone       = "done"
	StatusBlocked    = "blocked"
)

// Milestone outcomes.
const (
	MilestoneAchieved = "achieved"
	MilestoneMissed   = "missed"
)

// Analysis types understood by the insights worker. Producers may send others.
const (
	AnalysisSummary        = "summary"
	AnalysisRiskAssessment = "risk_assessment"
)

var (
	taskPriorities   = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	taskStatuses     = []string{StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusBlocked}
	milestoneResults = []string{MilestoneAchieved, MilestoneMissed}
)

// validator collects the first violation for an event.
type validator struct {
	t   Type
	err error
}

func (v *validator) fail(field, message string) {
	if v.err != nil {
		return
	}
	v.err = errors.ValidationError(message).
		WithContext("event_type", string(v.t)).
		WithContext("field", field).
		Build()
}

func (v *validator) uuid(field string, id uuid.UUID) {
	if id == uuid.Nil {
		v.fail(field, "missing required event field")
	}
}

func (v *validator) str(field, s string) {
	if s == "" {
		v.fail(field, "missing required event field")
	}
}

func (v *validator) oneOf(field, s string, allowed []string) {
	if !slices.Contains(allowed, s) {
		v.fail(field, "unsupported value")
	}
}

func (v *validator) nonNegative(field string, n float64) {
	if n < 0 {
		v.fail(field, "must not be negative")
	}
}

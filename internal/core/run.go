package core

import "time"

// Run represents a single pass over all tracked channels.
type Run struct {
	ID          string          `json:"id" yaml:"id"`
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      RunStatus       `json:"status" yaml:"status"`
	Outcomes    []SourceOutcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

// RunStatus represents the current state of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	// RunStatusAborted marks a run cut short by a credential failure.
	// Channels not reached before the abort carry no outcome.
	RunStatusAborted RunStatus = "aborted"
)

// OutcomeStatus classifies what happened to one channel within a run.
type OutcomeStatus string

const (
	OutcomeNotified OutcomeStatus = "notified"
	OutcomeSkipped  OutcomeStatus = "skipped"
	// OutcomeFiltered means a new item was detected but the channel's
	// filter rule suppressed the notification.
	OutcomeFiltered OutcomeStatus = "filtered"
	OutcomeError    OutcomeStatus = "error"
)

// SourceOutcome is the per-channel result line of a run report.
type SourceOutcome struct {
	SourceID string        `json:"source_id" yaml:"source_id"`
	Status   OutcomeStatus `json:"status" yaml:"status"`
	ItemID   string        `json:"item_id,omitempty" yaml:"item_id,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Notified returns the number of channels that produced a notification.
func (r *Run) Notified() int {
	n := 0
	for _, outcome := range r.Outcomes {
		if outcome.Status == OutcomeNotified {
			n++
		}
	}
	return n
}

// Errored returns the number of channels that failed in isolation.
func (r *Run) Errored() int {
	n := 0
	for _, outcome := range r.Outcomes {
		if outcome.Status == OutcomeError {
			n++
		}
	}
	return n
}

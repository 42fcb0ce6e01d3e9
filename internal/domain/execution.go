package domain

import (
	"encoding/json"
	"time"
)

// StepSpec is one entry of an execution's step roster.
type StepSpec struct {
	Name  string      `json:"name"`
	Retry RetryPolicy `json:"retry"`
}

// Execution is the projection of one review execution. The journal is the
// source of truth; Status, StartedAt and CompletedAt are derived from it.
type Execution struct {
	ExecutionID     string          `json:"execution_id"`
	Status          ExecutionStatus `json:"status"`
	Request         ReviewRequest   `json:"request"`
	Steps           []StepSpec      `json:"steps"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	LastSeq         int64           `json:"last_seq"`
}

// StepNames returns the roster names in order.
func (e *Execution) StepNames() []string {
	names := make([]string, len(e.Steps))
	for i, s := range e.Steps {
		names[i] = s.Name
	}
	return names
}

// Event is one immutable journal entry.
type Event struct {
	EventID     string          `json:"event_id"`
	ExecutionID string          `json:"execution_id"`
	Seq         int64           `json:"seq"`
	StepName    string          `json:"step_name"`
	Kind        EventKind       `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	Status ExecutionStatus
	Limit  int
}

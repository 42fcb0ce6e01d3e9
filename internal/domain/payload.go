package domain

import "time"

// StepStartedPayload is recorded when a step is first dispatched.
type StepStartedPayload struct {
	StartedAt time.Time `json:"started_at"`
}

// StepSucceededPayload carries the validated step result.
type StepSucceededPayload struct {
	Result   StepResult `json:"result"`
	Attempts int        `json:"attempts"`
}

// StepFailedPayload describes one failed attempt.
type StepFailedPayload struct {
	Attempt   int    `json:"attempt"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// StepRetryScheduledPayload records the backoff before the next attempt.
type StepRetryScheduledPayload struct {
	NextAttempt int   `json:"next_attempt"`
	DelayMs     int64 `json:"delay_ms"`
}

// ExecutionCompletedPayload carries the final response.
type ExecutionCompletedPayload struct {
	Response ReviewResponse `json:"response"`
}

// ExecutionFailedPayload names the step that could not succeed.
type ExecutionFailedPayload struct {
	Step      string `json:"step"`
	LastError string `json:"last_error"`
	Attempts  int    `json:"attempts"`
}

// ExecutionCancelledPayload records an operator cancellation.
type ExecutionCancelledPayload struct {
	Reason     string `json:"reason"`
	BeforeStep string `json:"before_step,omitempty"`
}

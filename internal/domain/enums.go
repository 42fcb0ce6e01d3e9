// Package domain defines the core domain models for the review engine.
package domain

// ExecutionStatus represents the status of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether no further events may follow this status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// EventKind represents the kind of a journal event.
type EventKind string

const (
	EventKindStepStarted        EventKind = "step_started"
	EventKindStepSucceeded      EventKind = "step_succeeded"
	EventKindStepFailed         EventKind = "step_failed"
	EventKindStepRetryScheduled EventKind = "step_retry_scheduled"
	EventKindExecutionCompleted EventKind = "execution_completed"
	EventKindExecutionFailed    EventKind = "execution_failed"
	EventKindExecutionCancelled EventKind = "execution_cancelled"
)

// IsTerminal reports whether the event ends its execution.
func (k EventKind) IsTerminal() bool {
	switch k {
	case EventKindExecutionCompleted, EventKindExecutionFailed, EventKindExecutionCancelled:
		return true
	}
	return false
}

// Status returns the execution status implied by a terminal event kind.
func (k EventKind) Status() ExecutionStatus {
	switch k {
	case EventKindExecutionCompleted:
		return ExecutionStatusCompleted
	case EventKindExecutionFailed:
		return ExecutionStatusFailed
	case EventKindExecutionCancelled:
		return ExecutionStatusCancelled
	}
	return ExecutionStatusRunning
}

// ExecutionStep is the step name carried by execution-level events.
const ExecutionStep = "_execution"

// RiskLevel is the risk a step assigns to the change.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "LOW"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelHigh   RiskLevel = "HIGH"
)

// Valid reports whether r is one of the fixed risk levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
		return true
	}
	return false
}

// Recommendation is a step's or the overall verdict.
type Recommendation string

const (
	RecommendationApprove        Recommendation = "APPROVE"
	RecommendationRequestChanges Recommendation = "REQUEST_CHANGES"
	RecommendationBlock          Recommendation = "BLOCK"
)

// Valid reports whether r is one of the fixed recommendations.
func (r Recommendation) Valid() bool {
	return r.Rank() > 0
}

// Rank orders recommendations by precedence. Unknown values rank 0.
func (r Recommendation) Rank() int {
	switch r {
	case RecommendationApprove:
		return 1
	case RecommendationRequestChanges:
		return 2
	case RecommendationBlock:
		return 3
	}
	return 0
}

// Analysis steps known to the engine.
const (
	StepCodeQuality   = "CodeQuality"
	StepTestQuality   = "TestQuality"
	StepSecurity      = "Security"
	StepDuplication   = "Duplication"
	StepComplexity    = "Complexity"
	StepDocumentation = "Documentation"
	StepPriority      = "Priority"
)

// KnownSteps lists every step an execution roster may name.
var KnownSteps = []string{
	StepCodeQuality,
	StepTestQuality,
	StepSecurity,
	StepDuplication,
	StepComplexity,
	StepDocumentation,
	StepPriority,
}

// IsKnownStep reports whether name is in KnownSteps.
func IsKnownStep(name string) bool {
	for _, s := range KnownSteps {
		if s == name {
			return true
		}
	}
	return false
}

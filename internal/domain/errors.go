package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutionNotFound is returned when an execution ID is unknown.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrExecutionTerminal is returned when appending to a finished execution.
	ErrExecutionTerminal = errors.New("execution already reached a terminal state")
	// ErrDuplicateOutcome is returned for a second success event of one step.
	ErrDuplicateOutcome = errors.New("step already has a recorded success")
)

// ValidationError reports a malformed review request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Step error codes.
const (
	StepErrorTimeout           = "timeout"
	StepErrorTransport         = "transport"
	StepErrorMalformedResponse = "malformed_response"
	StepErrorSchemaViolation   = "schema_violation"
	StepErrorUpstream          = "upstream"
	StepErrorMisconfigured     = "misconfigured"
	StepErrorPanic             = "panic"
)

// StepError is the only failure a step adapter returns.
type StepError struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *StepError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s step error [%s]: %s: %v", kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s step error [%s]: %s", kind, e.Code, e.Message)
}

func (e *StepError) Unwrap() error { return e.Err }

// NewRetryableError builds a StepError the dispatcher will retry.
func NewRetryableError(code, message string, err error) *StepError {
	return &StepError{Code: code, Message: message, Retryable: true, Err: err}
}

// NewTerminalError builds a StepError that ends the execution.
func NewTerminalError(code, message string, err error) *StepError {
	return &StepError{Code: code, Message: message, Retryable: false, Err: err}
}

// IsRetryable reports whether err is a retryable StepError.
func IsRetryable(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Retryable
}

// OutOfOrderEventError is returned when an append does not continue the
// journal at last+1.
type OutOfOrderEventError struct {
	ExecutionID string
	Expected    int64
	Got         int64
}

func (e *OutOfOrderEventError) Error() string {
	return fmt.Sprintf("out-of-order event for execution %s: expected seq %d, got %d", e.ExecutionID, e.Expected, e.Got)
}

// ExecutionFailedError is the terminal outcome of an execution whose step
// could not succeed.
type ExecutionFailedError struct {
	ExecutionID string
	Step        string
	LastError   string
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("execution %s failed at step %s: %s", e.ExecutionID, e.Step, e.LastError)
}

// InvalidInputError is returned by the aggregator for empty or malformed input.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid aggregator input: " + e.Reason
}

// TimeoutError is returned when an await deadline passes first.
type TimeoutError struct {
	ExecutionID string
	Status      ExecutionStatus
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for execution %s (status %s)", e.ExecutionID, e.Status)
}

// ExecutionCancelledError is returned when awaiting a cancelled execution.
type ExecutionCancelledError struct {
	ExecutionID string
	Reason      string
}

func (e *ExecutionCancelledError) Error() string {
	return fmt.Sprintf("execution %s was cancelled: %s", e.ExecutionID, e.Reason)
}

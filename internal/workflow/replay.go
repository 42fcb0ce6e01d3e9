// Package workflow derives execution state from the journal and drives a
// review execution through its step roster.
package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// StepPhase is the derived state of one step.
type StepPhase string

const (
	StepPhaseNotStarted       StepPhase = "NOT_STARTED"
	StepPhaseDispatched       StepPhase = "DISPATCHED"
	StepPhaseSucceeded        StepPhase = "SUCCEEDED"
	StepPhaseExhaustedRetries StepPhase = "EXHAUSTED_RETRIES"
)

// StepState is everything the journal says about one step.
type StepState struct {
	Name      string
	Phase     StepPhase
	StartedAt time.Time
	// Attempts counts attempts with a recorded outcome.
	Attempts int
	Result   *domain.StepResult
	LastCode string
	LastErr  string
	// AwaitingRetry is set when a retryable failure has no retry recorded yet.
	AwaitingRetry bool
	// PendingDelay is the backoff recorded for the next attempt, scheduled
	// at RetryScheduledAt.
	PendingDelay     time.Duration
	RetryScheduledAt time.Time
}

// State is the left fold of an execution's journal.
type State struct {
	ExecutionID  string
	Status       domain.ExecutionStatus
	LastSeq      int64
	StartedAt    time.Time
	Steps        map[string]*StepState
	Response     *domain.ReviewResponse
	Failure      *domain.ExecutionFailedPayload
	Cancellation *domain.ExecutionCancelledPayload
}

// NewState returns the state of an empty journal.
func NewState(executionID string) *State {
	return &State{
		ExecutionID: executionID,
		Status:      domain.ExecutionStatusPending,
		Steps:       make(map[string]*StepState),
	}
}

// Replay folds events into a fresh State.
func Replay(executionID string, events []domain.Event) (*State, error) {
	s := NewState(executionID)
	for _, ev := range events {
		if err := s.Apply(ev); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Step returns the state of a step, NotStarted if the journal never
// mentions it.
func (s *State) Step(name string) StepState {
	if st, ok := s.Steps[name]; ok {
		return *st
	}
	return StepState{Name: name, Phase: StepPhaseNotStarted}
}

// Results returns the successful results of the given steps in order,
// stopping at the first step without one.
func (s *State) Results(names []string) []domain.StepResult {
	var out []domain.StepResult
	for _, name := range names {
		st, ok := s.Steps[name]
		if !ok || st.Phase != StepPhaseSucceeded {
			break
		}
		out = append(out, *st.Result)
	}
	return out
}

func (s *State) step(name string) *StepState {
	st, ok := s.Steps[name]
	if !ok {
		st = &StepState{Name: name, Phase: StepPhaseNotStarted}
		s.Steps[name] = st
	}
	return st
}

// Apply folds one event into the state. It enforces the same ordering rules
// as the journal so a corrupted history is never silently accepted.
func (s *State) Apply(ev domain.Event) error {
	if ev.Seq != s.LastSeq+1 {
		return &domain.OutOfOrderEventError{ExecutionID: s.ExecutionID, Expected: s.LastSeq + 1, Got: ev.Seq}
	}
	if s.Status.IsTerminal() {
		return domain.ErrExecutionTerminal
	}

	switch ev.Kind {
	case domain.EventKindStepStarted:
		var p domain.StepStartedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		st := s.step(ev.StepName)
		if st.Phase == StepPhaseNotStarted {
			st.Phase = StepPhaseDispatched
			st.StartedAt = p.StartedAt
		}
		if s.StartedAt.IsZero() {
			s.StartedAt = p.StartedAt
		}
		s.Status = domain.ExecutionStatusRunning

	case domain.EventKindStepSucceeded:
		var p domain.StepSucceededPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		st := s.step(ev.StepName)
		if st.Phase == StepPhaseSucceeded {
			return domain.ErrDuplicateOutcome
		}
		result := p.Result
		st.Phase = StepPhaseSucceeded
		st.Result = &result
		st.Attempts = p.Attempts
		st.AwaitingRetry = false
		st.PendingDelay = 0
		st.RetryScheduledAt = time.Time{}

	case domain.EventKindStepFailed:
		var p domain.StepFailedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		st := s.step(ev.StepName)
		st.Attempts = p.Attempt
		st.LastCode = p.Code
		st.LastErr = p.Error
		st.PendingDelay = 0
		st.RetryScheduledAt = time.Time{}
		if p.Retryable {
			st.AwaitingRetry = true
		} else {
			st.AwaitingRetry = false
			st.Phase = StepPhaseExhaustedRetries
		}

	case domain.EventKindStepRetryScheduled:
		var p domain.StepRetryScheduledPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		st := s.step(ev.StepName)
		st.AwaitingRetry = false
		st.PendingDelay = time.Duration(p.DelayMs) * time.Millisecond
		st.RetryScheduledAt = ev.RecordedAt

	case domain.EventKindExecutionCompleted:
		var p domain.ExecutionCompletedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		s.Response = &p.Response
		s.Status = domain.ExecutionStatusCompleted

	case domain.EventKindExecutionFailed:
		var p domain.ExecutionFailedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if st, ok := s.Steps[p.Step]; ok && st.Phase != StepPhaseSucceeded {
			st.Phase = StepPhaseExhaustedRetries
			st.AwaitingRetry = false
		}
		s.Failure = &p
		s.Status = domain.ExecutionStatusFailed

	case domain.EventKindExecutionCancelled:
		var p domain.ExecutionCancelledPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		s.Cancellation = &p
		s.Status = domain.ExecutionStatusCancelled

	default:
		return fmt.Errorf("unknown event kind %q at seq %d", ev.Kind, ev.Seq)
	}

	s.LastSeq = ev.Seq
	return nil
}

func decode(ev domain.Event, v interface{}) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload at seq %d: %w", ev.Kind, ev.Seq, err)
	}
	return nil
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xiaot623/gogo/prreview/internal/dispatch"
	"github.com/xiaot623/gogo/prreview/internal/domain"
	"github.com/xiaot623/gogo/prreview/internal/metrics"
)

// Journal is the part of the store the executor reads and writes.
type Journal interface {
	GetExecution(ctx context.Context, executionID string) (*domain.Execution, error)
	AppendEvent(ctx context.Context, event *domain.Event) error
	ReadEvents(ctx context.Context, executionID string) ([]domain.Event, error)
}

// Dispatcher runs one step to completion under its retry policy.
type Dispatcher interface {
	Execute(ctx context.Context, req dispatch.Request) (domain.StepResult, int, error)
}

// StepRegistry resolves roster names to analyzers.
type StepRegistry interface {
	Lookup(name string) (dispatch.Analyzer, bool)
}

// Config holds executor settings.
type Config struct {
	// Model is reported in the response metadata.
	Model string
	// ExecutionTimeout bounds retries of steps with unlimited attempts,
	// measured from the execution's creation. Zero disables it.
	ExecutionTimeout time.Duration
	Clock            func() time.Time
	Metrics          *metrics.Metrics
}

// Executor drives executions through their step rosters. It is the only
// writer of an execution's journal; every decision it makes comes from the
// journal and from step outcomes.
type Executor struct {
	journal    Journal
	dispatcher Dispatcher
	registry   StepRegistry
	cfg        Config
}

// NewExecutor creates an executor.
func NewExecutor(journal Journal, dispatcher Dispatcher, registry StepRegistry, cfg Config) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Executor{
		journal:    journal,
		dispatcher: dispatcher,
		registry:   registry,
		cfg:        cfg,
	}
}

// Run starts or resumes an execution and drives it until it reaches a
// terminal state or ctx ends. A fresh and a resumed execution take the same
// path: replay the journal, skip steps that already succeeded, dispatch the
// rest in order.
//
// When ctx ends mid-step no terminal event is written, so a later Run picks
// the execution up where it stopped.
func (e *Executor) Run(ctx context.Context, executionID string) (*State, error) {
	exec, err := e.journal.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	if exec == nil {
		return nil, domain.ErrExecutionNotFound
	}

	events, err := e.journal.ReadEvents(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	state, err := Replay(executionID, events)
	if err != nil {
		return nil, fmt.Errorf("failed to replay execution %s: %w", executionID, err)
	}
	if state.Status.IsTerminal() {
		return state, nil
	}

	w := &journalWriter{journal: e.journal, state: state}
	if err := e.run(ctx, exec, w); err != nil {
		var ooe *domain.OutOfOrderEventError
		if errors.As(err, &ooe) {
			log.Printf("ERROR: journal sequence violated for execution %s, this is an executor bug: %v", executionID, err)
			return e.abort(ctx, executionID, err)
		}
		return w.state, err
	}

	e.observe(w.state)
	return w.state, nil
}

func (e *Executor) run(ctx context.Context, exec *domain.Execution, w *journalWriter) error {
	var deadline time.Time
	if e.cfg.ExecutionTimeout > 0 {
		deadline = exec.CreatedAt.Add(e.cfg.ExecutionTimeout)
	}
	names := exec.StepNames()

	for i, spec := range exec.Steps {
		st := w.state.Step(spec.Name)
		switch st.Phase {
		case StepPhaseSucceeded:
			continue
		case StepPhaseExhaustedRetries:
			return w.fail(ctx, spec.Name, st.LastErr, st.Attempts)
		}

		cancelled, err := w.CancelRequested(ctx)
		if err != nil {
			return err
		}
		if cancelled {
			log.Printf("INFO: execution %s cancelled before step %s", exec.ExecutionID, spec.Name)
			return w.cancel(ctx, spec.Name)
		}

		analyzer, ok := e.registry.Lookup(spec.Name)
		if !ok {
			return w.fail(ctx, spec.Name, fmt.Sprintf("no analyzer registered for step %s", spec.Name), st.Attempts)
		}

		if st.Phase == StepPhaseNotStarted {
			if err := w.append(ctx, spec.Name, domain.EventKindStepStarted,
				domain.StepStartedPayload{StartedAt: e.cfg.Clock().UTC()}); err != nil {
				return err
			}
		}

		result, attempts, err := e.dispatcher.Execute(ctx, dispatch.Request{
			ExecutionID: exec.ExecutionID,
			Step:        spec.Name,
			Analyzer:    analyzer,
			Input: domain.ReviewContext{
				ExecutionID: exec.ExecutionID,
				Request:     exec.Request,
				Prior:       w.state.Results(names[:i]),
			},
			Policy: spec.Retry,
			Resume: dispatch.Resume{
				Attempts:      st.Attempts,
				AwaitingRetry: st.AwaitingRetry,
				PendingDelay:  st.PendingDelay,
				ScheduledAt:   st.RetryScheduledAt,
			},
			Deadline: deadline,
			Recorder: w,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, dispatch.ErrCancelRequested) {
				return w.cancel(ctx, spec.Name)
			}
			var stepErr *domain.StepError
			var exhausted *dispatch.RetriesExhaustedError
			if errors.As(err, &exhausted) || errors.As(err, &stepErr) {
				return w.fail(ctx, spec.Name, err.Error(), attempts)
			}
			return err
		}

		result.StepName = spec.Name
		if err := w.append(ctx, spec.Name, domain.EventKindStepSucceeded,
			domain.StepSucceededPayload{Result: result, Attempts: attempts}); err != nil {
			return err
		}
	}

	results := w.state.Results(names)
	overall, err := Aggregate(results)
	if err != nil {
		return w.fail(ctx, domain.ExecutionStep, err.Error(), 0)
	}

	generatedAt := e.cfg.Clock().UTC()
	response := domain.ReviewResponse{
		OverallRecommendation: overall,
		Agents:                results,
		Metadata: domain.ResponseMetadata{
			GeneratedAt: generatedAt,
			TookMs:      generatedAt.Sub(w.state.StartedAt).Milliseconds(),
			Model:       e.cfg.Model,
		},
		PRNumber: exec.Request.PRNumber,
		PRTitle:  exec.Request.PRTitle,
		Author:   exec.Request.Author,
	}
	return w.append(ctx, domain.ExecutionStep, domain.EventKindExecutionCompleted,
		domain.ExecutionCompletedPayload{Response: response})
}

// abort terminates an execution whose journal can no longer be trusted to
// continue from the executor's view.
func (e *Executor) abort(ctx context.Context, executionID string, cause error) (*State, error) {
	events, err := e.journal.ReadEvents(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reread journal after %v: %w", cause, err)
	}
	state, err := Replay(executionID, events)
	if err != nil {
		return nil, fmt.Errorf("failed to replay journal after %v: %w", cause, err)
	}
	if state.Status.IsTerminal() {
		return state, cause
	}
	w := &journalWriter{journal: e.journal, state: state}
	if err := w.fail(ctx, domain.ExecutionStep, cause.Error(), 0); err != nil {
		return state, fmt.Errorf("failed to record failure after %v: %w", cause, err)
	}
	e.observe(w.state)
	return w.state, cause
}

func (e *Executor) observe(state *State) {
	switch state.Status {
	case domain.ExecutionStatusCompleted:
		took := time.Duration(state.Response.Metadata.TookMs) * time.Millisecond
		log.Printf("INFO: execution %s completed: %s in %s", state.ExecutionID, state.Response.OverallRecommendation, took)
		e.cfg.Metrics.ObserveFinished(string(state.Status), string(state.Response.OverallRecommendation), took)
	case domain.ExecutionStatusFailed:
		log.Printf("WARN: execution %s failed at step %s: %s", state.ExecutionID, state.Failure.Step, state.Failure.LastError)
		e.cfg.Metrics.ObserveFinished(string(state.Status), "", 0)
	case domain.ExecutionStatusCancelled:
		e.cfg.Metrics.ObserveFinished(string(state.Status), "", 0)
	}
}

// journalWriter appends events at the next sequence number and folds them
// into the in-memory state. It also records attempt history for the
// dispatcher.
type journalWriter struct {
	journal Journal
	state   *State
}

func (w *journalWriter) append(ctx context.Context, step string, kind domain.EventKind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	event := domain.Event{
		ExecutionID: w.state.ExecutionID,
		Seq:         w.state.LastSeq + 1,
		StepName:    step,
		Kind:        kind,
		Payload:     raw,
	}
	if err := w.journal.AppendEvent(ctx, &event); err != nil {
		return fmt.Errorf("failed to append %s for step %s: %w", kind, step, err)
	}
	return w.state.Apply(event)
}

func (w *journalWriter) fail(ctx context.Context, step, lastError string, attempts int) error {
	return w.append(ctx, domain.ExecutionStep, domain.EventKindExecutionFailed,
		domain.ExecutionFailedPayload{Step: step, LastError: lastError, Attempts: attempts})
}

// cancel ends the execution before the given step runs, or before its next
// attempt when it is already retrying.
func (w *journalWriter) cancel(ctx context.Context, step string) error {
	return w.append(ctx, domain.ExecutionStep, domain.EventKindExecutionCancelled,
		domain.ExecutionCancelledPayload{Reason: "cancelled by request", BeforeStep: step})
}

// CancelRequested implements dispatch.Recorder.
func (w *journalWriter) CancelRequested(ctx context.Context) (bool, error) {
	exec, err := w.journal.GetExecution(ctx, w.state.ExecutionID)
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation: %w", err)
	}
	return exec != nil && exec.CancelRequested, nil
}

// AttemptFailed implements dispatch.Recorder.
func (w *journalWriter) AttemptFailed(ctx context.Context, step string, attempt int, err *domain.StepError) error {
	return w.append(ctx, step, domain.EventKindStepFailed, domain.StepFailedPayload{
		Attempt:   attempt,
		Code:      err.Code,
		Error:     err.Error(),
		Retryable: err.Retryable,
	})
}

// RetryScheduled implements dispatch.Recorder.
func (w *journalWriter) RetryScheduled(ctx context.Context, step string, nextAttempt int, delay time.Duration) error {
	return w.append(ctx, step, domain.EventKindStepRetryScheduled, domain.StepRetryScheduledPayload{
		NextAttempt: nextAttempt,
		DelayMs:     delay.Milliseconds(),
	})
}

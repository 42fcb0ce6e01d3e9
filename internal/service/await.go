package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/prreview/internal/domain"
	"github.com/xiaot623/gogo/prreview/internal/workflow"
)

// AwaitResult blocks until the execution is terminal, the timeout passes or
// ctx ends. A timeout of zero waits for ctx alone.
//
// A completed execution returns its response. A failed one returns a
// *domain.ExecutionFailedError naming the step, a cancelled one a
// *domain.ExecutionCancelledError and a timeout a *domain.TimeoutError.
func (s *Service) AwaitResult(ctx context.Context, executionID string, timeout time.Duration) (*domain.ReviewResponse, error) {
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for !exec.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, &domain.TimeoutError{ExecutionID: executionID, Status: exec.Status}
		case <-ticker.C:
		}
		if exec, err = s.GetExecution(ctx, executionID); err != nil {
			return nil, err
		}
	}
	return s.Result(ctx, executionID)
}

// Result returns the outcome of a terminal execution without waiting.
func (s *Service) Result(ctx context.Context, executionID string) (*domain.ReviewResponse, error) {
	events, err := s.Events(ctx, executionID, 0)
	if err != nil {
		return nil, err
	}
	state, err := workflow.Replay(executionID, events)
	if err != nil {
		return nil, fmt.Errorf("failed to replay execution %s: %w", executionID, err)
	}

	switch state.Status {
	case domain.ExecutionStatusCompleted:
		return state.Response, nil
	case domain.ExecutionStatusFailed:
		return nil, &domain.ExecutionFailedError{
			ExecutionID: executionID,
			Step:        state.Failure.Step,
			LastError:   state.Failure.LastError,
		}
	case domain.ExecutionStatusCancelled:
		return nil, &domain.ExecutionCancelledError{ExecutionID: executionID, Reason: state.Cancellation.Reason}
	default:
		return nil, &domain.TimeoutError{ExecutionID: executionID, Status: state.Status}
	}
}

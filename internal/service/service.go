// Package service exposes the review engine to transports: submission,
// awaiting results, inspection, cancellation and recovery after restart.
package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/prreview/internal/domain"
	"github.com/xiaot623/gogo/prreview/internal/metrics"
	"github.com/xiaot623/gogo/prreview/internal/policy"
	"github.com/xiaot623/gogo/prreview/internal/reviewio"
	"github.com/xiaot623/gogo/prreview/internal/store"
	"github.com/xiaot623/gogo/prreview/internal/workflow"
)

// Runner drives one execution to a terminal state.
type Runner interface {
	Run(ctx context.Context, executionID string) (*workflow.State, error)
}

// Options holds the optional collaborators of a Service.
type Options struct {
	// Steps is the roster snapshotted into every new execution.
	Steps        []domain.StepSpec
	Policy       *policy.Engine
	Archive      *reviewio.Archive
	Metrics      *metrics.Metrics
	PollInterval time.Duration
	Clock        func() time.Time
}

// Service owns the executions started by this process.
type Service struct {
	store  store.Store
	runner Runner
	opts   Options

	// baseCtx outlives the request that submitted an execution and ends at
	// Shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// New creates a service.
func New(st store.Store, runner Runner, opts Options) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:   st,
		runner:  runner,
		opts:    opts,
		baseCtx: ctx,
		cancel:  cancel,
		running: make(map[string]struct{}),
	}
}

// Submit validates a request, records a new execution and starts it in the
// background. It returns the execution ID.
func (s *Service) Submit(ctx context.Context, req *domain.ReviewRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if len(s.opts.Steps) == 0 {
		return "", fmt.Errorf("no pipeline steps configured")
	}

	names := make([]string, len(s.opts.Steps))
	for i, st := range s.opts.Steps {
		names[i] = st.Name
	}
	if s.opts.Policy != nil {
		decision, err := s.opts.Policy.Evaluate(ctx, s.opts.Policy.InputFor(req, names))
		if err != nil {
			return "", fmt.Errorf("failed to evaluate admission policy: %w", err)
		}
		if !decision.Allowed() {
			s.opts.Metrics.IncPolicyRejection()
			reason := decision.Reason
			if reason == "" {
				reason = "request rejected by review policy"
			}
			return "", &domain.ValidationError{Field: "request", Message: reason}
		}
	}

	steps := make([]domain.StepSpec, len(s.opts.Steps))
	copy(steps, s.opts.Steps)
	exec := &domain.Execution{
		ExecutionID: "exec_" + uuid.New().String(),
		Status:      domain.ExecutionStatusPending,
		Request:     *req,
		Steps:       steps,
		CreatedAt:   s.opts.Clock().UTC(),
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}
	s.opts.Metrics.IncSubmitted()
	log.Printf("INFO: execution %s submitted for %q with steps %v", exec.ExecutionID, req.PRTitle, names)

	s.launch(exec.ExecutionID)
	return exec.ExecutionID, nil
}

// launch runs an execution in the background unless this process already
// runs it.
func (s *Service) launch(executionID string) bool {
	s.mu.Lock()
	if _, ok := s.running[executionID]; ok {
		s.mu.Unlock()
		return false
	}
	if s.baseCtx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.running[executionID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, executionID)
			s.mu.Unlock()
		}()
		s.run(executionID)
	}()
	return true
}

func (s *Service) run(executionID string) {
	state, err := s.runner.Run(s.baseCtx, executionID)
	if err != nil {
		if s.baseCtx.Err() != nil {
			log.Printf("INFO: execution %s suspended by shutdown", executionID)
			return
		}
		log.Printf("ERROR: execution %s stopped: %v", executionID, err)
		return
	}
	if state.Status == domain.ExecutionStatusCompleted && s.opts.Archive != nil {
		if err := s.opts.Archive.Save(executionID, state.Response); err != nil {
			log.Printf("WARN: failed to archive response of %s: %v", executionID, err)
		}
	}
}

// ResumeIncomplete restarts every execution that has not reached a terminal
// state. It returns the number of executions resumed.
func (s *Service) ResumeIncomplete(ctx context.Context) (int, error) {
	execs, err := s.store.ListIncompleteExecutions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list incomplete executions: %w", err)
	}
	resumed := 0
	for _, exec := range execs {
		if s.launch(exec.ExecutionID) {
			log.Printf("INFO: resuming execution %s (status %s, last seq %d)", exec.ExecutionID, exec.Status, exec.LastSeq)
			resumed++
		}
	}
	return resumed, nil
}

// Shutdown stops every running execution without writing terminal events
// and waits for them to return, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetExecution returns an execution or domain.ErrExecutionNotFound.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, domain.ErrExecutionNotFound
	}
	return exec, nil
}

// ListExecutions returns executions matching filter, newest first.
func (s *Service) ListExecutions(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	return s.store.ListExecutions(ctx, filter)
}

// Events returns the journal of an execution with a sequence number above
// afterSeq.
func (s *Service) Events(ctx context.Context, executionID string, afterSeq int64) ([]domain.Event, error) {
	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	if afterSeq > 0 {
		return s.store.ReadEventsAfter(ctx, executionID, afterSeq)
	}
	return s.store.ReadEvents(ctx, executionID)
}

// Cancel asks a running execution to stop before its next step. Cancelling
// a finished execution changes nothing.
func (s *Service) Cancel(ctx context.Context, executionID string) (*domain.Execution, error) {
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return exec, nil
	}
	if _, err := s.store.RequestCancel(ctx, executionID); err != nil {
		return nil, fmt.Errorf("failed to request cancel: %w", err)
	}
	log.Printf("INFO: cancel requested for execution %s", executionID)
	return s.GetExecution(ctx, executionID)
}

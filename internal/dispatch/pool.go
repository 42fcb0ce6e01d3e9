// Package dispatch runs step attempts on a bounded worker pool and applies
// per-step timeout and retry policies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xiaot623/gogo/prreview/internal/domain"
	"github.com/xiaot623/gogo/prreview/internal/metrics"
)

// ErrPoolStopped is returned when an attempt is submitted after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// ErrCancelRequested is returned when the execution was cancelled between
// attempts of a step.
var ErrCancelRequested = errors.New("cancel requested")

// Analyzer is one analysis step.
type Analyzer interface {
	Analyze(ctx context.Context, input domain.ReviewContext) (domain.StepResult, error)
}

// Recorder receives the attempt history of a step so it can be journaled
// before the dispatcher continues. CancelRequested is consulted between
// attempts, never during one.
type Recorder interface {
	AttemptFailed(ctx context.Context, step string, attempt int, err *domain.StepError) error
	RetryScheduled(ctx context.Context, step string, nextAttempt int, delay time.Duration) error
	CancelRequested(ctx context.Context) (bool, error)
}

// Resume describes the attempts a step already made before this dispatch,
// as recovered from the journal.
type Resume struct {
	Attempts      int
	AwaitingRetry bool
	PendingDelay  time.Duration
	// ScheduledAt is when PendingDelay was recorded. The part of the delay
	// that already elapsed is not slept again.
	ScheduledAt time.Time
}

// Request is one step to run to completion.
type Request struct {
	ExecutionID string
	Step        string
	Analyzer    Analyzer
	Input       domain.ReviewContext
	Policy      domain.RetryPolicy
	Resume      Resume
	// Deadline bounds retries when Policy.MaxAttempts is 0. Zero means none.
	Deadline time.Time
	Recorder Recorder
}

// RetriesExhaustedError is returned when a retryable failure can no longer
// be retried.
type RetriesExhaustedError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("step %s exhausted retries after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

type attemptResult struct {
	result domain.StepResult
	err    error
}

type job struct {
	ctx      context.Context
	step     string
	analyzer Analyzer
	input    domain.ReviewContext
	timeout  time.Duration
	resultCh chan attemptResult
}

// Pool is a fixed set of workers executing single step attempts.
type Pool struct {
	numWorkers int
	jobs       chan job
	stopCh     chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once

	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	verbose bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics records attempt metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pool) { p.sleep = sleep }
}

// WithClock replaces the clock used for retry deadlines.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithVerbose logs every attempt.
func WithVerbose(v bool) Option {
	return func(p *Pool) { p.verbose = v }
}

// NewPool creates a pool of numWorkers workers. Call Start before Execute.
func NewPool(numWorkers int, opts ...Option) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p := &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan job),
		stopCh:     make(chan struct{}),
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		log.Printf("INFO: starting worker pool with %d workers", p.numWorkers)
		for i := 0; i < p.numWorkers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop stops accepting attempts and waits for the workers to exit. Attempts
// still running are abandoned once their timeout fires.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		log.Printf("INFO: worker pool stopped")
	})
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.jobs:
			j.resultCh <- p.runAttempt(j)
		}
	}
}

// runAttempt runs one attempt under its timeout. The analyzer runs in its own
// goroutine so an adapter that ignores its context cannot hold the worker
// past the timeout.
func (p *Pool) runAttempt(j job) attemptResult {
	ctx, cancel := context.WithTimeout(j.ctx, j.timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: domain.NewTerminalError(domain.StepErrorPanic,
					fmt.Sprintf("step %s panicked: %v", j.step, r), nil)}
			}
		}()
		result, err := j.analyzer.Analyze(ctx, j.input)
		done <- attemptResult{result: result, err: err}
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		if j.ctx.Err() != nil {
			return attemptResult{err: j.ctx.Err()}
		}
		return attemptResult{err: domain.NewRetryableError(domain.StepErrorTimeout,
			fmt.Sprintf("attempt exceeded %s", j.timeout), ctx.Err())}
	}
}

// attempt hands one attempt to a worker and waits for its result.
func (p *Pool) attempt(ctx context.Context, req Request) (domain.StepResult, error) {
	j := job{
		ctx:      ctx,
		step:     req.Step,
		analyzer: req.Analyzer,
		input:    req.Input,
		timeout:  req.Policy.AttemptTimeout,
		resultCh: make(chan attemptResult, 1),
	}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return domain.StepResult{}, ctx.Err()
	case <-p.stopCh:
		return domain.StepResult{}, ErrPoolStopped
	}

	select {
	case r := <-j.resultCh:
		return r.result, r.err
	case <-ctx.Done():
		return domain.StepResult{}, ctx.Err()
	}
}

// Execute runs a step until it succeeds, fails terminally, or runs out of
// retries. It returns the result and the total number of attempts made,
// including those recorded before a resume. Backoff sleeps happen on the
// caller's goroutine and never hold a worker.
//
// Errors are a *domain.StepError (terminal), a *RetriesExhaustedError,
// ErrCancelRequested, a context error when ctx ends, or an error returned by
// the Recorder.
func (p *Pool) Execute(ctx context.Context, req Request) (domain.StepResult, int, error) {
	attempts := req.Resume.Attempts

	switch {
	case req.Resume.AwaitingRetry:
		// A retryable failure was journaled but its retry was not.
		if err := p.scheduleRetry(ctx, req, attempts, nil); err != nil {
			return domain.StepResult{}, attempts, err
		}
	case req.Resume.PendingDelay > 0:
		if err := p.sleepRemaining(ctx, req.Resume); err != nil {
			return domain.StepResult{}, attempts, err
		}
	}

	for {
		if attempts > 0 {
			if err := p.checkCancel(ctx, req); err != nil {
				return domain.StepResult{}, attempts, err
			}
		}
		attempts++
		start := p.now()
		result, err := p.attempt(ctx, req)
		elapsed := p.now().Sub(start)

		if err == nil {
			p.metrics.ObserveAttempt(req.Step, "success", elapsed)
			if p.verbose {
				log.Printf("INFO: execution %s step %s attempt %d succeeded in %s", req.ExecutionID, req.Step, attempts, elapsed)
			}
			return result, attempts, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrPoolStopped) {
			return domain.StepResult{}, attempts - 1, err
		}

		stepErr := Classify(err)
		outcome := "terminal"
		if stepErr.Retryable {
			outcome = "retryable"
		}
		p.metrics.ObserveAttempt(req.Step, outcome, elapsed)
		log.Printf("WARN: execution %s step %s attempt %d failed: %v", req.ExecutionID, req.Step, attempts, stepErr)

		if err := req.Recorder.AttemptFailed(ctx, req.Step, attempts, stepErr); err != nil {
			return domain.StepResult{}, attempts, err
		}
		if !stepErr.Retryable {
			return domain.StepResult{}, attempts, stepErr
		}
		if err := p.scheduleRetry(ctx, req, attempts, stepErr); err != nil {
			return domain.StepResult{}, attempts, err
		}
	}
}

// scheduleRetry records and sleeps the backoff that follows the given
// failed attempt, or reports exhaustion.
func (p *Pool) scheduleRetry(ctx context.Context, req Request, attempts int, last error) error {
	if last == nil {
		last = errors.New("previous attempt failed")
	}
	if err := p.checkCancel(ctx, req); err != nil {
		return err
	}
	if req.Policy.Exhausted(attempts) {
		return &RetriesExhaustedError{Step: req.Step, Attempts: attempts, Err: last}
	}
	delay := req.Policy.Backoff(attempts)
	if !req.Deadline.IsZero() && p.now().Add(delay).After(req.Deadline) {
		return &RetriesExhaustedError{Step: req.Step, Attempts: attempts,
			Err: fmt.Errorf("execution deadline reached: %w", last)}
	}

	if err := req.Recorder.RetryScheduled(ctx, req.Step, attempts+1, delay); err != nil {
		return err
	}
	p.metrics.IncRetry(req.Step)
	if p.verbose {
		log.Printf("INFO: execution %s step %s retry %d in %s", req.ExecutionID, req.Step, attempts+1, delay)
	}
	return p.sleep(ctx, delay)
}

func (p *Pool) checkCancel(ctx context.Context, req Request) error {
	cancelled, err := req.Recorder.CancelRequested(ctx)
	if err != nil {
		return fmt.Errorf("failed to check cancellation: %w", err)
	}
	if cancelled {
		log.Printf("INFO: execution %s step %s cancelled between attempts", req.ExecutionID, req.Step)
		return ErrCancelRequested
	}
	return nil
}

// sleepRemaining sleeps what is left of a backoff recovered from the journal.
func (p *Pool) sleepRemaining(ctx context.Context, r Resume) error {
	delay := r.PendingDelay
	if !r.ScheduledAt.IsZero() {
		if elapsed := p.now().Sub(r.ScheduledAt); elapsed > 0 {
			delay -= elapsed
		}
	}
	if delay <= 0 {
		return nil
	}
	return p.sleep(ctx, delay)
}

// Classify maps any attempt error onto a StepError. Errors that are not
// already StepErrors are treated as transient upstream faults.
func Classify(err error) *domain.StepError {
	var se *domain.StepError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewRetryableError(domain.StepErrorTimeout, "attempt timed out", err)
	}
	return domain.NewRetryableError(domain.StepErrorUpstream, "unclassified step failure", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

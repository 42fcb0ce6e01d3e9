package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/prreview/internal/domain"
	"go.uber.org/goleak"
)

type analyzerFunc func(ctx context.Context, input domain.ReviewContext) (domain.StepResult, error)

func (f analyzerFunc) Analyze(ctx context.Context, input domain.ReviewContext) (domain.StepResult, error) {
	return f(ctx, input)
}

type retryRecord struct {
	next  int
	delay time.Duration
}

type fakeRecorder struct {
	mu       sync.Mutex
	failures []int
	codes    []string
	retries  []retryRecord
	failErr  error
	cancel   bool
	checks   int
}

func (r *fakeRecorder) AttemptFailed(ctx context.Context, step string, attempt int, err *domain.StepError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, attempt)
	r.codes = append(r.codes, err.Code)
	return r.failErr
}

func (r *fakeRecorder) RetryScheduled(ctx context.Context, step string, nextAttempt int, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, retryRecord{next: nextAttempt, delay: delay})
	return nil
}

func (r *fakeRecorder) CancelRequested(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks++
	return r.cancel, nil
}

func (r *fakeRecorder) requestCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = true
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func approve() domain.StepResult {
	return domain.StepResult{StepName: "CodeQuality", RiskLevel: domain.RiskLevelLow, Recommendation: domain.RecommendationApprove, Findings: []string{}}
}

func testPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		AttemptTimeout:    time.Second,
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxAttempts:       5,
	}
}

func newTestPool(t *testing.T, workers int, opts ...Option) (*Pool, *sleepLog) {
	t.Helper()
	sl := &sleepLog{}
	p := NewPool(workers, append([]Option{WithSleep(sl.sleep)}, opts...)...)
	p.Start()
	t.Cleanup(p.Stop)
	return p, sl
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, sl := newTestPool(t, 2)
	rec := &fakeRecorder{}

	result, attempts, err := p.Execute(context.Background(), Request{
		Step:     "CodeQuality",
		Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) { return approve(), nil }),
		Policy:   testPolicy(),
		Recorder: rec,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, domain.RecommendationApprove, result.Recommendation)
	assert.Empty(t, rec.failures)
	assert.Empty(t, sl.delays)
	p.Stop()
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, sl := newTestPool(t, 1)
	rec := &fakeRecorder{}

	const k = 3
	var calls int32
	analyzer := analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
		if atomic.AddInt32(&calls, 1) <= k {
			return domain.StepResult{}, domain.NewRetryableError(domain.StepErrorTransport, "connection reset", nil)
		}
		return approve(), nil
	})

	_, attempts, err := p.Execute(context.Background(), Request{Step: "CodeQuality", Analyzer: analyzer, Policy: testPolicy(), Recorder: rec})
	require.NoError(t, err)
	assert.Equal(t, k+1, attempts)
	assert.Equal(t, []int{1, 2, 3}, rec.failures)
	assert.Equal(t, []retryRecord{
		{next: 2, delay: 100 * time.Millisecond},
		{next: 3, delay: 200 * time.Millisecond},
		{next: 4, delay: 400 * time.Millisecond},
	}, rec.retries)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, sl.delays)
	p.Stop()
}

func TestExecuteTerminalErrorIsNotRetried(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, _ := newTestPool(t, 1)
	rec := &fakeRecorder{}

	_, attempts, err := p.Execute(context.Background(), Request{
		Step: "Security",
		Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
			return domain.StepResult{}, domain.NewTerminalError(domain.StepErrorSchemaViolation, "recommendation MERGE", nil)
		}),
		Policy:   testPolicy(),
		Recorder: rec,
	})
	var se *domain.StepError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Retryable)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, []string{domain.StepErrorSchemaViolation}, rec.codes)
	assert.Empty(t, rec.retries)
	p.Stop()
}

func TestExecuteExhaustsRetries(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, _ := newTestPool(t, 1)
	rec := &fakeRecorder{}
	policy := testPolicy()
	policy.MaxAttempts = 3

	_, attempts, err := p.Execute(context.Background(), Request{
		Step: "Security",
		Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
			return domain.StepResult{}, errors.New("503 from upstream")
		}),
		Policy:   policy,
		Recorder: rec,
	})
	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, []int{1, 2, 3}, rec.failures)
	assert.Len(t, rec.retries, 2)
	assert.Equal(t, []string{domain.StepErrorUpstream, domain.StepErrorUpstream, domain.StepErrorUpstream}, rec.codes)
	p.Stop()
}

func TestExecuteAttemptTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, _ := newTestPool(t, 1)
	rec := &fakeRecorder{}
	policy := testPolicy()
	policy.AttemptTimeout = 20 * time.Millisecond
	policy.MaxAttempts = 2

	_, attempts, err := p.Execute(context.Background(), Request{
		Step: "Security",
		Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
			<-ctx.Done()
			return domain.StepResult{}, ctx.Err()
		}),
		Policy:   policy,
		Recorder: rec,
	})
	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{domain.StepErrorTimeout, domain.StepErrorTimeout}, rec.codes)
	p.Stop()
}

func TestExecuteRecoversPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, _ := newTestPool(t, 1)
	rec := &fakeRecorder{}

	_, _, err := p.Execute(context.Background(), Request{
		Step: "Security",
		Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
			panic("nil map")
		}),
		Policy:   testPolicy(),
		Recorder: rec,
	})
	var se *domain.StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.StepErrorPanic, se.Code)
	assert.False(t, se.Retryable)
	p.Stop()
}

func TestExecuteResumesAttemptCounter(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, sl := newTestPool(t, 1)

	t.Run("pending delay", func(t *testing.T) {
		rec := &fakeRecorder{}
		var calls int32
		_, attempts, err := p.Execute(context.Background(), Request{
			Step: "CodeQuality",
			Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					return domain.StepResult{}, domain.NewRetryableError(domain.StepErrorTransport, "reset", nil)
				}
				return approve(), nil
			}),
			Policy:   testPolicy(),
			Resume:   Resume{Attempts: 2, PendingDelay: 200 * time.Millisecond},
			Recorder: rec,
		})
		require.NoError(t, err)
		assert.Equal(t, 4, attempts)
		assert.Equal(t, []int{3}, rec.failures)
		assert.Equal(t, []retryRecord{{next: 4, delay: 400 * time.Millisecond}}, rec.retries)
		assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, sl.delays)
	})

	t.Run("pending delay partly elapsed", func(t *testing.T) {
		fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		p, sl := newTestPool(t, 1, WithClock(func() time.Time { return fixed }))
		_, attempts, err := p.Execute(context.Background(), Request{
			Step:     "CodeQuality",
			Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) { return approve(), nil }),
			Policy:   testPolicy(),
			Resume:   Resume{Attempts: 1, PendingDelay: time.Second, ScheduledAt: fixed.Add(-300 * time.Millisecond)},
			Recorder: &fakeRecorder{},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, []time.Duration{700 * time.Millisecond}, sl.delays)
		p.Stop()
	})

	t.Run("pending delay already elapsed", func(t *testing.T) {
		fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		p, sl := newTestPool(t, 1, WithClock(func() time.Time { return fixed }))
		_, attempts, err := p.Execute(context.Background(), Request{
			Step:     "CodeQuality",
			Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) { return approve(), nil }),
			Policy:   testPolicy(),
			Resume:   Resume{Attempts: 1, PendingDelay: time.Second, ScheduledAt: fixed.Add(-time.Minute)},
			Recorder: &fakeRecorder{},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Empty(t, sl.delays)
		p.Stop()
	})

	t.Run("awaiting retry", func(t *testing.T) {
		rec := &fakeRecorder{}
		_, attempts, err := p.Execute(context.Background(), Request{
			Step:     "CodeQuality",
			Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) { return approve(), nil }),
			Policy:   testPolicy(),
			Resume:   Resume{Attempts: 1, AwaitingRetry: true},
			Recorder: rec,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, []retryRecord{{next: 2, delay: 100 * time.Millisecond}}, rec.retries)
	})

	t.Run("awaiting retry already exhausted", func(t *testing.T) {
		rec := &fakeRecorder{}
		policy := testPolicy()
		policy.MaxAttempts = 2
		_, _, err := p.Execute(context.Background(), Request{
			Step:     "CodeQuality",
			Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) { return approve(), nil }),
			Policy:   policy,
			Resume:   Resume{Attempts: 2, AwaitingRetry: true},
			Recorder: rec,
		})
		var exhausted *RetriesExhaustedError
		assert.True(t, errors.As(err, &exhausted))
		assert.Empty(t, rec.retries)
	})
	p.Stop()
}

func TestExecuteStopsAtDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, _ := newTestPool(t, 1, WithClock(func() time.Time { return fixed }))
	rec := &fakeRecorder{}
	policy := testPolicy()
	policy.InitialBackoff = time.Second
	policy.MaxAttempts = 0

	_, attempts, err := p.Execute(context.Background(), Request{
		Step: "CodeQuality",
		Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
			return domain.StepResult{}, domain.NewRetryableError(domain.StepErrorTransport, "reset", nil)
		}),
		Policy:   policy,
		Deadline: fixed.Add(1500 * time.Millisecond),
		Recorder: rec,
	})
	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []retryRecord{{next: 2, delay: time.Second}}, rec.retries)
	p.Stop()
}

func TestExecuteStopsRetryingWhenCancelled(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
	}{
		{name: "unbounded attempts", maxAttempts: 0},
		{name: "cancel wins over exhaustion", maxAttempts: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			p, _ := newTestPool(t, 1)
			rec := &fakeRecorder{}
			policy := testPolicy()
			policy.MaxAttempts = tt.maxAttempts
			var calls int32

			_, attempts, err := p.Execute(context.Background(), Request{
				Step: "CodeQuality",
				Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
					if atomic.AddInt32(&calls, 1) == 2 {
						rec.requestCancel()
					}
					return domain.StepResult{}, domain.NewRetryableError(domain.StepErrorUpstream, "503", nil)
				}),
				Policy:   policy,
				Recorder: rec,
			})
			assert.ErrorIs(t, err, ErrCancelRequested)
			assert.Equal(t, 2, attempts)
			assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
			assert.Equal(t, []int{1, 2}, rec.failures)
			assert.Equal(t, []retryRecord{{next: 2, delay: 100 * time.Millisecond}}, rec.retries)
			p.Stop()
		})
	}
}

func TestExecuteFirstAttemptSkipsCancelCheck(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, _ := newTestPool(t, 1)
	rec := &fakeRecorder{cancel: true}
	_, attempts, err := p.Execute(context.Background(), Request{
		Step:     "CodeQuality",
		Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) { return approve(), nil }),
		Policy:   testPolicy(),
		Recorder: rec,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Zero(t, rec.checks)
	p.Stop()
}

func TestExecuteRecorderErrorStopsStep(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, _ := newTestPool(t, 1)
	journalErr := errors.New("disk full")
	rec := &fakeRecorder{failErr: journalErr}

	_, _, err := p.Execute(context.Background(), Request{
		Step: "CodeQuality",
		Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
			return domain.StepResult{}, domain.NewRetryableError(domain.StepErrorTransport, "reset", nil)
		}),
		Policy:   testPolicy(),
		Recorder: rec,
	})
	assert.ErrorIs(t, err, journalErr)
	assert.Empty(t, rec.retries)
	p.Stop()
}

func TestPoolBoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, _ := newTestPool(t, 2)

	var running, peak int32
	release := make(chan struct{})
	analyzer := analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return approve(), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := p.Execute(context.Background(), Request{Step: "CodeQuality", Analyzer: analyzer, Policy: testPolicy(), Recorder: &fakeRecorder{}})
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
	p.Stop()
}

func TestExecuteAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := NewPool(1)
	p.Start()
	p.Stop()

	_, _, err := p.Execute(context.Background(), Request{
		Step:     "CodeQuality",
		Analyzer: analyzerFunc(func(ctx context.Context, _ domain.ReviewContext) (domain.StepResult, error) { return approve(), nil }),
		Policy:   testPolicy(),
		Recorder: &fakeRecorder{},
	})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, domain.StepErrorTimeout, Classify(context.DeadlineExceeded).Code)
	assert.True(t, Classify(errors.New("boom")).Retryable)
	terminal := domain.NewTerminalError(domain.StepErrorMisconfigured, "no api key", nil)
	assert.Same(t, terminal, Classify(terminal))
}

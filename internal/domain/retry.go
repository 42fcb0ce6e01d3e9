package domain

import (
	"fmt"
	"math"
	"time"
)

// RetryPolicy controls how the dispatcher retries one step.
type RetryPolicy struct {
	AttemptTimeout    time.Duration `json:"attempt_timeout"`
	InitialBackoff    time.Duration `json:"initial_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	// MaxAttempts of 0 retries until the execution deadline.
	MaxAttempts int `json:"max_attempts"`
}

// Validate rejects policies that could hang or shrink their backoff.
func (p RetryPolicy) Validate() error {
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got %s", p.AttemptTimeout)
	}
	if p.InitialBackoff < 0 {
		return fmt.Errorf("initial backoff must not be negative, got %s", p.InitialBackoff)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %v", p.BackoffMultiplier)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative, got %d", p.MaxAttempts)
	}
	return nil
}

// Backoff returns the delay after the given failed attempt (1-based):
// initialBackoff * multiplier^(attempt-1), saturating at math.MaxInt64.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if math.IsInf(d, 0) || d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exhausted reports whether attempts has used up the policy.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

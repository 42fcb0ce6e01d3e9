package helpers

import (
	"sync"
	"time"
)

// StepClock returns a clock that advances by step on every call, starting
// at start.
func StepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

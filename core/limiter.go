package core

import (
	"fmt"
	"sync"
)

// IterationLimiter bounds the number of provider calls issued by one flow run.
// A configured maximum below one still permits a single attempt.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a limiter allowing max iterations (floor of one).
func NewIterationLimiter(max int) *IterationLimiter {
	if max < 1 {
		max = 1
	}
	return &IterationLimiter{max: max}
}

// Increment records one iteration and returns ErrIterationsExhausted once the
// limit is exceeded.
func (l *IterationLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count >= l.max {
		return fmt.Errorf("%w: %d", ErrIterationsExhausted, l.max)
	}
	l.count++

	return nil
}

// Count returns the number of iterations recorded so far.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many iterations are left.
func (l *IterationLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.max - l.count
}

// Max returns the effective maximum.
func (l *IterationLimiter) Max() int { return l.max }

package github

import (
	"sync"
	"time"
)

// Per-request retry schedule. Cycle-level backoff lives with the poller.
const (
	transientBase = 60 * time.Second
	transientMax  = 480 * time.Second
)

// transientDelay is the wait before retrying a 5xx or network failure.
// A server-supplied Retry-After wins over the exponential schedule.
func transientDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	delay := transientBase
	for i := 0; i < attempt && delay < transientMax; i++ {
		delay *= 2
	}
	return min(delay, transientMax)
}

var secondarySteps = []time.Duration{
	1 * time.Minute,
	2 * time.Minute,
	4 * time.Minute,
	8 * time.Minute,
}

// SecondaryLadder walks the fixed backoff ladder for secondary rate limits.
type SecondaryLadder struct {
	mu   sync.Mutex
	step int
}

// Next returns the wait for the next consecutive secondary hit. It reports
// false once the ladder is exhausted.
func (l *SecondaryLadder) Next() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.step >= len(secondarySteps) {
		return 0, false
	}
	d := secondarySteps[l.step]
	l.step++
	return d, true
}

func (l *SecondaryLadder) Reset() {
	l.mu.Lock()
	l.step = 0
	l.mu.Unlock()
}

func (l *SecondaryLadder) Step() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.step
}

package notify

import (
	"sync"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/clock"
)

// SlidingWindow admits at most limit events in any window.
type SlidingWindow struct {
	mu     sync.Mutex
	clock  clock.Clock
	limit  int
	window time.Duration
	stamps []time.Time
}

func NewSlidingWindow(clk clock.Clock, limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{clock: clk, limit: limit, window: window}
}

func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = w.stamps[i:]
}

// Allow takes a slot if one is free.
func (w *SlidingWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)
	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Wait is how long until a slot frees up.
func (w *SlidingWindow) Wait() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)
	if len(w.stamps) < w.limit {
		return 0
	}
	return w.stamps[0].Add(w.window).Sub(now)
}

// KeyedInterval allows one event per key per interval. Only recorded
// events count, so a failed attempt does not use up the slot.
type KeyedInterval struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	last     map[string]time.Time
}

func NewKeyedInterval(clk clock.Clock, interval time.Duration) *KeyedInterval {
	return &KeyedInterval{clock: clk, interval: interval, last: make(map[string]time.Time)}
}

// Wait returns zero when key may proceed now.
func (k *KeyedInterval) Wait(key string) time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()

	last, ok := k.last[key]
	if !ok {
		return 0
	}
	remaining := last.Add(k.interval).Sub(k.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (k *KeyedInterval) Record(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.last[key] = k.clock.Now()
}

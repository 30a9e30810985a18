package github

import (
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/clock"
)

const (
	DefaultRateLimit      = 5000
	DefaultPauseThreshold = 100

	maxJitter = 10 * time.Second
)

type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Used      int
}

// Until returns the time left before the quota resets, never negative.
func (r RateLimitInfo) Until(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRateLimit reads the X-RateLimit-* headers. It reports false when the
// response carries no remaining/reset telemetry.
func ParseRateLimit(h http.Header) (RateLimitInfo, bool) {
	remainingHdr := h.Get("X-RateLimit-Remaining")
	resetHdr := h.Get("X-RateLimit-Reset")
	if remainingHdr == "" || resetHdr == "" {
		return RateLimitInfo{}, false
	}

	remaining, err := strconv.Atoi(remainingHdr)
	if err != nil {
		return RateLimitInfo{}, false
	}
	reset, err := strconv.ParseInt(resetHdr, 10, 64)
	if err != nil {
		return RateLimitInfo{}, false
	}
	if remaining < 0 {
		remaining = 0
	}

	info := RateLimitInfo{
		Limit:     DefaultRateLimit,
		Remaining: remaining,
		ResetAt:   time.Unix(reset, 0).UTC(),
	}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		info.Limit = v
	}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Used")); err == nil {
		info.Used = v
	}
	return info, true
}

// DefaultJitter draws uniformly from [0, 10s).
func DefaultJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(maxJitter)))
}

// Tracker holds the latest rate-limit snapshot and decides proactive pauses.
type Tracker struct {
	mu        sync.Mutex
	clock     clock.Clock
	threshold int
	jitter    func() time.Duration
	info      RateLimitInfo
	known     bool
}

func NewTracker(clk clock.Clock, threshold int, jitter func() time.Duration) *Tracker {
	if jitter == nil {
		jitter = DefaultJitter
	}
	if threshold <= 0 {
		threshold = DefaultPauseThreshold
	}
	return &Tracker{clock: clk, threshold: threshold, jitter: jitter}
}

func (t *Tracker) Update(info RateLimitInfo) {
	t.mu.Lock()
	t.info = info
	t.known = true
	t.mu.Unlock()
}

func (t *Tracker) Info() (RateLimitInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info, t.known
}

// PauseFor returns how long to wait before the next request. It is zero
// unless the remaining quota is below the threshold.
func (t *Tracker) PauseFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.known || t.info.Remaining >= t.threshold {
		return 0
	}
	return t.info.Until(t.clock.Now()) + t.jitter()
}

// ResetWait is the wait after a primary limit response: until reset plus
// jitter. ok is false when no reset time is known.
func (t *Tracker) ResetWait() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.known || t.info.ResetAt.IsZero() {
		return 0, false
	}
	return t.info.Until(t.clock.Now()) + t.jitter(), true
}

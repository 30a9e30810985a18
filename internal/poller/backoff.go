package poller

import (
	"database/sql"
	mathrand "math/rand"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/db"
)

const (
	backoffBase = time.Minute
	backoffMax  = time.Hour
)

// BackoffDelay is the wait after the recorded run of failed cycles: the
// base doubled per failure up to the cap, then +/-10% jitter. The jitter
// is derived from the last failure time so every check of the same state
// agrees.
func BackoffDelay(state *db.BackoffState) time.Duration {
	if state == nil || state.ConsecutiveFailures <= 0 {
		return 0
	}

	delay := backoffBase
	for i := 1; i < state.ConsecutiveFailures && delay < backoffMax; i++ {
		delay *= 2
	}
	delay = min(delay, backoffMax)

	var seed int64
	if state.LastFailureTime.Valid {
		// whole seconds survive the store round trip
		seed = state.LastFailureTime.Time.Unix()
	}
	spread := 2*mathrand.New(mathrand.NewSource(seed)).Float64() - 1
	return delay + time.Duration(float64(delay)*0.1*spread)
}

// BackoffRemaining is the part of the delay still to wait at now.
func BackoffRemaining(state *db.BackoffState, now time.Time) time.Duration {
	if state == nil || state.ConsecutiveFailures <= 0 || !state.LastFailureTime.Valid {
		return 0
	}
	return max(BackoffDelay(state)-now.Sub(state.LastFailureTime.Time), 0)
}

// recordCycle folds one cycle outcome into state.
func recordCycle(state *db.BackoffState, now time.Time, cycleErr error) {
	if cycleErr == nil {
		state.ConsecutiveFailures = 0
		state.LastFailureTime = sql.NullTime{}
		return
	}
	state.ConsecutiveFailures++
	state.LastFailureTime = sql.NullTime{Time: now, Valid: true}
}

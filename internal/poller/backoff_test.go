package poller

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PowerSchill/automation-concierge/internal/db"
)

func TestBackoffDelay_Ranges(t *testing.T) {
	failedAt := sql.NullTime{Time: testStart, Valid: true}
	tests := []struct {
		name     string
		failures int
		min, max time.Duration
	}{
		{"no failures", 0, 0, 0},
		{"one failed cycle ~60s", 1, 54 * time.Second, 66 * time.Second},
		{"three failed cycles ~240s", 3, 216 * time.Second, 264 * time.Second},
		{"capped at an hour", 12, 3240 * time.Second, 3960 * time.Second},
		{"cap survives large counts", 500, 3240 * time.Second, 3960 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &db.BackoffState{ConsecutiveFailures: tt.failures, LastFailureTime: failedAt}
			delay := BackoffDelay(state)
			assert.GreaterOrEqual(t, delay, tt.min)
			assert.LessOrEqual(t, delay, tt.max)
		})
	}
}

func TestBackoffDelay_StableForSameState(t *testing.T) {
	state := &db.BackoffState{ConsecutiveFailures: 2, LastFailureTime: sql.NullTime{Time: testStart, Valid: true}}
	first := BackoffDelay(state)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, BackoffDelay(state))
	}
}

func TestBackoffRemaining(t *testing.T) {
	state := &db.BackoffState{}
	recordCycle(state, testStart, errors.New("boom"))
	assert.Equal(t, 1, state.ConsecutiveFailures)

	remaining := BackoffRemaining(state, testStart.Add(10*time.Second))
	assert.Greater(t, remaining, 44*time.Second)
	assert.Less(t, remaining, 56*time.Second)

	assert.Zero(t, BackoffRemaining(state, testStart.Add(2*time.Minute)))

	recordCycle(state, testStart.Add(time.Minute), nil)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.False(t, state.LastFailureTime.Valid)
	assert.Zero(t, BackoffRemaining(state, testStart))
	assert.Zero(t, BackoffRemaining(nil, testStart))
}

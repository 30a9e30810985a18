package github

import (
	"testing"
	"time"
)

func TestTransientDelay_Schedule(t *testing.T) {
	tests := []struct {
		name       string
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{"first retry waits a minute", 0, 0, 60 * time.Second},
		{"second retry doubles", 1, 0, 120 * time.Second},
		{"third retry", 2, 0, 240 * time.Second},
		{"fourth retry hits cap", 3, 0, 480 * time.Second},
		{"cap holds beyond schedule", 7, 0, 480 * time.Second},
		{"retry-after overrides schedule", 2, 7 * time.Second, 7 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transientDelay(tt.attempt, tt.retryAfter); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSecondaryLadder(t *testing.T) {
	var l SecondaryLadder

	for i, want := range []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute} {
		got, ok := l.Next()
		if !ok || got != want {
			t.Fatalf("hit %d: expected %v, got %v (ok=%v)", i+1, want, got, ok)
		}
	}

	l.Reset()
	if got, _ := l.Next(); got != time.Minute {
		t.Errorf("expected reset ladder to start at 1m, got %v", got)
	}

	for i := 0; i < 3; i++ {
		l.Next()
	}
	if _, ok := l.Next(); ok {
		t.Error("expected fifth consecutive hit to exhaust the ladder")
	}
}

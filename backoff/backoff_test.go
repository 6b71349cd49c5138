package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/broadcast/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.Constant(5 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second, Max: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_JitterWithinBounds(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second, Max: 4 * time.Second, Jitter: true}
	for i := 0; i < 200; i++ {
		d := e.Delay(3)
		if d < 0 || d > 4*time.Second {
			t.Fatalf("Delay(3) = %v, out of [0, 4s]", d)
		}
	}
}

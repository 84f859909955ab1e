package timeutil

import (
	"testing"
	"time"
)

var _ Clock = RealClock{}
var _ Clock = (*MockClock)(nil)

func TestRealClock(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v, before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since() returned a negative duration")
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() without auto-step moved to %v", got)
	}

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestMockClock_AutoStep(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	c.AutoStep(time.Millisecond)

	a, b, d := c.Now(), c.Now(), c.Now()
	if !a.Before(b) || !b.Before(d) {
		t.Errorf("readings not strictly ordered: %v %v %v", a, b, d)
	}
	if got := d.Sub(a); got != 2*time.Millisecond {
		t.Errorf("step total = %v, want 2ms", got)
	}
	// Since does not consume a step.
	if got := c.Since(start); got != 3*time.Millisecond {
		t.Errorf("Since() = %v, want 3ms", got)
	}
}

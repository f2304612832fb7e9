package relay

import (
	"testing"
	"time"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if !rl.Allow(t0.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(t0.Add(300 * time.Millisecond)) {
		t.Fatalf("4th event inside the window should be rejected")
	}
	// The first event leaves the window at t0+1s.
	if !rl.Allow(t0.Add(time.Second)) {
		t.Fatalf("event after the oldest expired should be allowed")
	}
	if rl.Allow(t0.Add(time.Second + 50*time.Millisecond)) {
		t.Fatalf("second event at t0+1.05s should be rejected (t0+100ms still in window)")
	}
	if !rl.Allow(t0.Add(time.Second + 100*time.Millisecond)) {
		t.Fatalf("event at t0+1.1s should be allowed")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if len(rl.ring) != DefaultConfig().RateEvents || rl.window != DefaultConfig().RateWindow {
		t.Fatalf("defaults not applied: limit=%d window=%s", len(rl.ring), rl.window)
	}
}

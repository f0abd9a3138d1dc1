package quotes

import (
	"testing"
	"time"
)

// newTestLimiter builds a limiter on a fake clock
func newTestLimiter(rate int, per time.Duration, burst, maxConsecutive int, pause time.Duration) (*RateLimiter, *time.Time) {
	r := NewRateLimiter(rate, per, burst, maxConsecutive, pause)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	r.sleep = func(d time.Duration) { clock = clock.Add(d) }
	r.lastRefill = clock
	return r, &clock
}

// ==================== Burst & Refill ====================

func TestAcquireWithinBurst(t *testing.T) {
	r, _ := newTestLimiter(10, time.Minute, 3, 0, 0)

	for i := 0; i < 3; i++ {
		if !r.Acquire(time.Millisecond) {
			t.Fatalf("acquire %d within burst should succeed", i+1)
		}
	}
	if r.Acquire(time.Millisecond) {
		t.Fatal("acquire beyond burst with no refill time should fail")
	}
}

func TestRefillOverTime(t *testing.T) {
	r, clock := newTestLimiter(60, time.Minute, 2, 0, 0)

	if !r.Acquire(time.Millisecond) || !r.Acquire(time.Millisecond) {
		t.Fatal("burst should be available")
	}

	// One token per second at 60/min
	*clock = clock.Add(time.Second)
	if !r.Acquire(time.Millisecond) {
		t.Fatal("one token should have accrued after a second")
	}
	if r.Acquire(time.Millisecond) {
		t.Fatal("no second token should be available yet")
	}
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	r, _ := newTestLimiter(60, time.Minute, 1, 0, 0)

	if !r.Acquire(time.Millisecond) {
		t.Fatal("first acquire should succeed")
	}
	// The fake sleep advances the clock, so a generous timeout succeeds
	if !r.Acquire(5 * time.Second) {
		t.Fatal("acquire should succeed once a token accrues within the timeout")
	}
}

func TestAcquireTimeout(t *testing.T) {
	r, _ := newTestLimiter(1, time.Hour, 1, 0, 0)

	if !r.Acquire(time.Millisecond) {
		t.Fatal("first acquire should succeed")
	}
	if r.Acquire(time.Second) {
		t.Fatal("acquire should time out when the next token is an hour away")
	}
}

// ==================== Forced Pause ====================

func TestForcedPauseAfterConsecutiveRequests(t *testing.T) {
	r, clock := newTestLimiter(100, time.Minute, 10, 3, 30*time.Second)

	for i := 0; i < 3; i++ {
		if !r.Acquire(time.Millisecond) {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}

	// The third consecutive take starts the pause
	if r.Acquire(time.Millisecond) {
		t.Fatal("acquire during the forced pause should fail")
	}

	*clock = clock.Add(31 * time.Second)
	if !r.Acquire(time.Millisecond) {
		t.Fatal("acquire after the pause should succeed")
	}
}

func TestConsecutiveCounterResetsWhenStarved(t *testing.T) {
	r, clock := newTestLimiter(60, time.Minute, 1, 2, time.Minute)

	if !r.Acquire(time.Millisecond) {
		t.Fatal("first acquire should succeed")
	}
	// Starvation resets the consecutive run
	if r.Acquire(time.Millisecond) {
		t.Fatal("bucket should be empty")
	}

	*clock = clock.Add(2 * time.Second)
	if !r.Acquire(time.Millisecond) {
		t.Fatal("acquire after refill should succeed")
	}
	// Only one consecutive take since the reset, so no pause yet
	*clock = clock.Add(2 * time.Second)
	if !r.Acquire(time.Millisecond) {
		t.Fatal("no pause should be active after the reset")
	}
}

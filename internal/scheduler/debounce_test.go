package scheduler

import (
	"testing"
	"time"
)

func newTestDebouncer(window time.Duration) (*Debouncer, *time.Time) {
	d := NewDebouncer(window)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }
	return d, &clock
}

func TestDebounceCollapsesBurst(t *testing.T) {
	d, _ := newTestDebouncer(30 * time.Second)

	allowed := 0
	for i := 0; i < 10; i++ {
		if d.Allow("job") {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("allowed = %d, a burst within one window must collapse to 1", allowed)
	}
}

func TestDebounceAllowsAfterWindow(t *testing.T) {
	d, clock := newTestDebouncer(30 * time.Second)

	if !d.Allow("job") {
		t.Fatal("first call must be allowed")
	}
	*clock = clock.Add(29 * time.Second)
	if d.Allow("job") {
		t.Fatal("call inside the window must be rejected")
	}
	*clock = clock.Add(2 * time.Second)
	if !d.Allow("job") {
		t.Fatal("call after the window must be allowed")
	}
}

func TestDebounceKeysAreIndependent(t *testing.T) {
	d, _ := newTestDebouncer(time.Minute)

	if !d.Allow("a") {
		t.Fatal("first call for key a must be allowed")
	}
	if !d.Allow("b") {
		t.Error("key b must not be affected by key a")
	}
}

func TestDebounceReset(t *testing.T) {
	d, _ := newTestDebouncer(time.Minute)

	if !d.Allow("job") {
		t.Fatal("first call must be allowed")
	}
	d.Reset("job")
	if !d.Allow("job") {
		t.Error("reset must clear the window")
	}
}

package quotes

import (
	"log"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter for the quotes provider. It
// refills rate tokens per window, allows a burst above the steady
// rate, and forces a pause after maxConsecutive back-to-back requests.
type RateLimiter struct {
	mu sync.Mutex

	rate           int           // Tokens added per window
	per            time.Duration // Window length
	burst          int           // Bucket capacity
	maxConsecutive int           // Requests before a forced pause
	pause          time.Duration // Forced pause length

	tokens      float64
	lastRefill  time.Time
	consecutive int
	pausedUntil time.Time
	now         func() time.Time
	sleep       func(time.Duration)
}

// NewRateLimiter creates a rate limiter with the given parameters
func NewRateLimiter(rate int, per time.Duration, burst, maxConsecutive int, pause time.Duration) *RateLimiter {
	if rate <= 0 {
		rate = 30
	}
	if per <= 0 {
		per = time.Minute
	}
	if burst <= 0 {
		burst = rate
	}
	return &RateLimiter{
		rate:           rate,
		per:            per,
		burst:          burst,
		maxConsecutive: maxConsecutive,
		pause:          pause,
		tokens:         float64(burst),
		lastRefill:     time.Now(),
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// Acquire blocks until a token is available or the timeout elapses.
// Returns false on timeout.
func (r *RateLimiter) Acquire(timeout time.Duration) bool {
	deadline := r.now().Add(timeout)

	for {
		wait, ok := r.tryTake()
		if ok {
			return true
		}

		now := r.now()
		if now.Add(wait).After(deadline) {
			log.Printf("[QUOTES-LIMITER] Acquire timed out after %v", timeout)
			return false
		}
		r.sleep(wait)
	}
}

// tryTake attempts to consume one token, returning the suggested wait
// when none is available
func (r *RateLimiter) tryTake() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	// Honor a forced pause
	if now.Before(r.pausedUntil) {
		return r.pausedUntil.Sub(now), false
	}

	// Refill proportionally to elapsed time
	elapsed := now.Sub(r.lastRefill)
	r.tokens += elapsed.Seconds() * float64(r.rate) / r.per.Seconds()
	if r.tokens > float64(r.burst) {
		r.tokens = float64(r.burst)
	}
	r.lastRefill = now

	if r.tokens < 1 {
		// Time until one token accrues
		deficit := 1 - r.tokens
		wait := time.Duration(deficit * r.per.Seconds() / float64(r.rate) * float64(time.Second))
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		r.consecutive = 0
		return wait, false
	}

	r.tokens--
	r.consecutive++

	// Force a pause after a run of back-to-back requests
	if r.maxConsecutive > 0 && r.consecutive >= r.maxConsecutive {
		r.pausedUntil = now.Add(r.pause)
		r.consecutive = 0
	}

	return 0, true
}

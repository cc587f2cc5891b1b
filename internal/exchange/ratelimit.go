package exchange

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter holds one token bucket per key (venue endpoint class).
// Buckets refill at requests_per_minute and allow short bursts.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	perSec  rate.Limit
	burst   int
}

// NewRateLimiter creates a keyed limiter from per-minute capacity
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*rate.Limiter),
		perSec:  rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
	}
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rl.perSec, rl.burst)
		rl.buckets[key] = lim
	}
	return lim
}

// Acquire takes one token for key. On an empty bucket it does not
// block: it returns a RateLimitError carrying the refill wait.
func (rl *RateLimiter) Acquire(key string) error {
	lim := rl.bucket(key)
	if lim.Allow() {
		return nil
	}

	// Reserve to learn the wait, then cancel so the token is not spent.
	res := lim.Reserve()
	wait := res.Delay()
	res.Cancel()

	return &RateLimitError{Key: key, RetryAfter: wait}
}

// Tokens reports the current token count for key, for metrics
func (rl *RateLimiter) Tokens(key string) float64 {
	return rl.bucket(key).Tokens()
}

package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acme/data-dash/internal/metrics"
)

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a token bucket per key. Each key starts full and refills
// continuously at capacity tokens per period. Buckets that have refilled to
// capacity are dropped, so idle keys cost nothing.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   float64
	refillRate float64 // tokens per second
	period     time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter allowing capacity calls per key per
// period. NewRateLimiter(30, time.Minute) allows 30 executions of each check
// per minute.
func NewRateLimiter(capacity int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		capacity:   float64(capacity),
		refillRate: float64(capacity) / period.Seconds(),
		period:     period,
		now:        time.Now,
	}
}

// Allow consumes a token for key. When none is left it returns false and
// how long until the next token is available.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.lastSweep.IsZero() {
		r.lastSweep = now
	}
	if now.Sub(r.lastSweep) >= r.period {
		r.sweep(now)
	}

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: r.capacity, lastRefill: now}
		r.buckets[key] = b
	}
	b.tokens = r.refill(b, now)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / r.refillRate * float64(time.Second))
	return false, wait
}

func (r *RateLimiter) refill(b *bucket, now time.Time) float64 {
	return math.Min(r.capacity, b.tokens+now.Sub(b.lastRefill).Seconds()*r.refillRate)
}

// sweep drops buckets that are full again; a fresh bucket is identical.
// Must be called with mu held.
func (r *RateLimiter) sweep(now time.Time) {
	for key, b := range r.buckets {
		if r.refill(b, now) >= r.capacity {
			delete(r.buckets, key)
		}
	}
	r.lastSweep = now
}

func (r *RateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// allowCheck spends a token for a registered check id and answers 429 with
// Retry-After when the check's bucket is empty. It reports whether the
// request may proceed.
func (r *RateLimiter) allowCheck(c *gin.Context, id string) bool {
	ok, wait := r.Allow(id)
	if ok {
		return true
	}
	metrics.CheckExecutions.WithLabelValues(id, "rate_limited").Inc()
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	fail(c, http.StatusTooManyRequests, "Too many executions, retry later", nil)
	return false
}

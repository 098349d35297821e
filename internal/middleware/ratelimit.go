package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"recipestore/internal/logger"
)

// KeyFunc picks the identity a RateLimiter counts requests against.
type KeyFunc func(r *http.Request) string

// ByClientIP keys requests by client address.
func ByClientIP(r *http.Request) string {
	return logger.GetClientIP(r)
}

// ByToken keys requests by session token, falling back to client address.
func ByToken(r *http.Request) string {
	if token := GetToken(r.Context()); token != "" {
		return "token:" + token
	}
	if token := TokenFromRequest(r); token != "" {
		return "token:" + token
	}
	return ByClientIP(r)
}

// RateLimiter enforces a minimum spacing between requests from the same key
// with a token bucket of burst 1 per key.
type RateLimiter struct {
	interval time.Duration
	key      KeyFunc
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func NewRateLimiter(interval time.Duration, key KeyFunc) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		key:      key,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

// Allow records a request for key and reports whether it is permitted.
func (rl *RateLimiter) Allow(key string) bool {
	_, ok := rl.reserve(key)
	return ok
}

// reserve takes the key's token, or reports how long until one is available.
// A denied reservation is cancelled so refused requests do not push the wait out.
func (rl *RateLimiter) reserve(key string) (time.Duration, bool) {
	if rl.interval <= 0 {
		return 0, true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(rl.interval), 1)}
		rl.buckets[key] = b
	}
	b.seen = now

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// Prune forgets keys idle for longer than the interval. Their buckets are
// full again, so dropping them changes nothing.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for k, b := range rl.buckets {
		if now.Sub(b.seen) >= rl.interval {
			delete(rl.buckets, k)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wait, ok := rl.reserve(rl.key(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			WriteAPIError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded",
				"Too many requests. Please wait before trying again.", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-key token bucket
// ──────────────────────────────────────────────────────────────────────────────

const idleKeyTTL = 10 * time.Minute

// allowance is the token balance of one client key.
type allowance struct {
	left float64
	seen time.Time
}

// limiter grants rps tokens per second per key, up to capacity. Idle keys are
// swept on the request path, so nothing runs after the router is dropped.
type limiter struct {
	mu        sync.Mutex
	keys      map[string]*allowance
	perSec    float64
	capacity  float64
	nextSweep time.Time
	now       func() time.Time
}

// newLimiter sizes the bucket at max(10, rps) so short spikes pass.
func newLimiter(rps int) *limiter {
	if rps < 1 {
		rps = 1
	}
	return &limiter{
		keys:     make(map[string]*allowance),
		perSec:   float64(rps),
		capacity: math.Max(10, float64(rps)),
		now:      time.Now,
	}
}

// take spends one token of key. When the bucket is dry it reports how long
// until the next token.
func (l *limiter) take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !now.Before(l.nextSweep) {
		l.sweep(now.Add(-idleKeyTTL))
		l.nextSweep = now.Add(idleKeyTTL / 2)
	}

	a, ok := l.keys[key]
	if !ok {
		a = &allowance{left: l.capacity, seen: now}
		l.keys[key] = a
	}
	a.left = math.Min(l.capacity, a.left+now.Sub(a.seen).Seconds()*l.perSec)
	a.seen = now

	if a.left < 1 {
		wait := time.Duration((1 - a.left) / l.perSec * float64(time.Second))
		return false, wait
	}
	a.left--
	return true, 0
}

// sweep forgets keys not seen since cutoff. Caller holds l.mu.
func (l *limiter) sweep(cutoff time.Time) {
	for key, a := range l.keys {
		if a.seen.Before(cutoff) {
			delete(l.keys, key)
		}
	}
}

// RateLimitMiddleware allows rps requests per second per caller. Requests
// that passed JWTMiddleware are keyed by user id, anything else by client IP.
// Rejected requests get 429 with a Retry-After header.
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	l := newLimiter(rps)

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id := GetUserID(c); id != uuid.Nil {
			key = "user:" + id.String()
		}

		ok, wait := l.take(key)
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests, please slow down",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

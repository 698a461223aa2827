package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Per-IP throttling for the wallet API. Two tiers share one implementation:
// a general budget for the read endpoints, and a much tighter one for
// /transfer — a runaway script hammering the spend path burns fees and
// fragments the UTXO set long before it exhausts anything else.
//
// Buckets refill continuously; a caller that drains its bucket gets HTTP 429
// with the whole-second wait the wallet expects it to honor. Idle buckets
// are pruned inline whenever the table grows past pruneThreshold, so no
// background goroutine is needed.

const (
	idleEviction   = 10 * time.Minute
	pruneThreshold = 1024
)

type visitor struct {
	tokens float64
	seen   time.Time
}

// RateLimiter is a token-bucket throttle keyed by client IP.
type RateLimiter struct {
	mu       sync.Mutex
	perSec   float64
	burst    float64
	visitors map[string]*visitor
}

// NewRateLimiter allows ratePerMin requests per minute per IP with the
// given burst capacity.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	return &RateLimiter{
		perSec:   float64(ratePerMin) / 60.0,
		burst:    float64(burst),
		visitors: make(map[string]*visitor),
	}
}

// NewSpendRateLimiter is the tight tier for the transfer endpoint.
func NewSpendRateLimiter() *RateLimiter {
	return NewRateLimiter(12, 3)
}

// take consumes one token for ip, reporting the wait when none is left.
// The whole table shares one lock; wallet API traffic is a handful of
// clients, not a fleet.
func (rl *RateLimiter) take(ip string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		if len(rl.visitors) >= pruneThreshold {
			rl.pruneLocked(now)
		}
		v = &visitor{tokens: rl.burst}
		rl.visitors[ip] = v
	} else {
		v.tokens += now.Sub(v.seen).Seconds() * rl.perSec
		if v.tokens > rl.burst {
			v.tokens = rl.burst
		}
	}
	v.seen = now

	if v.tokens >= 1 {
		v.tokens--
		return true, 0
	}
	wait := time.Duration((1-v.tokens)/rl.perSec*float64(time.Second)) + time.Second
	return false, wait.Truncate(time.Second)
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-idleEviction)
	for ip, v := range rl.visitors {
		if v.seen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// Middleware enforces the limit on a route group.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := rl.take(c.ClientIP(), time.Now())
		if !ok {
			secs := int(wait.Seconds())
			c.Header("Retry-After", fmt.Sprintf("%d", secs))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":             "wallet API request budget exhausted for this address",
				"retryAfterSeconds": secs,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// sweepInterval is how many Allow calls pass between evictions of idle buckets
const sweepInterval = 1000

// RateLimiter is a per-key token bucket
type RateLimiter struct {
	mu           sync.Mutex
	tokens       map[string]int
	lastRefill   map[string]time.Time
	calls        int
	maxTokens    int
	refillRate   int           // tokens per refill
	refillPeriod time.Duration // how often to refill
	now          func() time.Time
}

// NewRateLimiter creates a limiter holding up to maxTokens per key and adding
// refillRate tokens every refillPeriod
func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:       make(map[string]int),
		lastRefill:   make(map[string]time.Time),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// NewPerMinuteLimiter allows perMinute requests a minute per key, refilled
// one token at a time
func NewPerMinuteLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return NewRateLimiter(perMinute, 1, time.Minute/time.Duration(perMinute))
}

// Allow takes a token for key if one is available
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.calls++
	if rl.calls%sweepInterval == 0 {
		rl.evictFull(now)
	}

	if _, exists := rl.tokens[key]; !exists {
		rl.tokens[key] = rl.maxTokens
		rl.lastRefill[key] = now
	}

	refills := int(now.Sub(rl.lastRefill[key]) / rl.refillPeriod)
	if refills > 0 {
		rl.tokens[key] = min(rl.maxTokens, rl.tokens[key]+refills*rl.refillRate)
		rl.lastRefill[key] = rl.lastRefill[key].Add(time.Duration(refills) * rl.refillPeriod)
	}

	if rl.tokens[key] > 0 {
		rl.tokens[key]--
		return true
	}
	return false
}

// Remaining returns the tokens left for key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if n, ok := rl.tokens[key]; ok {
		return n
	}
	return rl.maxTokens
}

// evictFull drops buckets that would be full again; they behave exactly like
// a new key
func (rl *RateLimiter) evictFull(now time.Time) {
	need := rl.maxTokens / max(rl.refillRate, 1)
	idle := time.Duration(need+1) * rl.refillPeriod
	for key, last := range rl.lastRefill {
		if now.Sub(last) >= idle {
			delete(rl.tokens, key)
			delete(rl.lastRefill, key)
		}
	}
}

// RateLimitMiddleware limits requests per client IP, or per authenticated
// user when one is set
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, ok := GetUserID(c); ok {
			key = "user:" + userID
		}

		allowed := rl.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.maxTokens))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining(key)))

		if !allowed {
			retryMs := int(rl.refillPeriod.Milliseconds())
			c.Header("Retry-After", strconv.Itoa(max(1, retryMs/1000)))
			RespondErrorWithRetry(c, http.StatusTooManyRequests, ErrCodeRateLimited,
				"Too many requests, please try again later", retryMs)
			return
		}

		c.Next()
	}
}

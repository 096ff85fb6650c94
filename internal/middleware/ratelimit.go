package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"verichat/internal/metrics"
)

// RateLimiter counts requests per key in fixed windows. Idle keys expire from
// the cache after one window.
type RateLimiter struct {
	mu      sync.Mutex
	windows *gocache.Cache
	limit   int
	window  time.Duration
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithNow(limit, window, time.Now)
}

func NewRateLimiterWithNow(limit int, w time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		windows: gocache.New(w, 2*w),
		limit:   limit,
		window:  w,
		now:     now,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.allow(key)
	return ok
}

// allow reports whether key may proceed and, if not, how long until its
// window resets.
func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	var w *window
	if v, ok := rl.windows.Get(key); ok {
		w = v.(*window)
	}
	if w == nil || !now.Before(w.resetAt) {
		rl.windows.Set(key, &window{count: 1, resetAt: now.Add(rl.window)}, rl.window)
		return true, 0
	}
	if w.count >= rl.limit {
		return false, w.resetAt.Sub(now)
	}
	w.count++
	return true, 0
}

// KeyFunc picks the rate-limit bucket for a request.
type KeyFunc func(c *gin.Context) string

// ByClientIP buckets by client address. Request headers such as Origin are
// client-chosen and never part of the key.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// RateLimitMiddleware answers 429 with Retry-After once a bucket is spent.
// A nil key defaults to ByClientIP.
func RateLimitMiddleware(rl *RateLimiter, key KeyFunc, m *metrics.Metrics) gin.HandlerFunc {
	if key == nil {
		key = ByClientIP
	}
	return func(c *gin.Context) {
		ok, retryAfter := rl.allow(key(c))
		if !ok {
			m.RateLimited(c.FullPath())
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

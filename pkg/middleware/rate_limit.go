package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v2"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	// Requests allowed per Window, all of which may be spent at once
	Requests int
	Window   time.Duration
	Message  string
}

// RateLimiter keeps one token bucket per client IP. Buckets of clients that
// went quiet for a whole window are evicted.
type RateLimiter struct {
	cfg      RateLimiterConfig
	mu       sync.Mutex
	visitors *ttlcache.Cache
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Requests <= 0 {
		cfg.Requests = 100
	}
	if cfg.Message == "" {
		cfg.Message = "Too many requests, please try again later"
	}

	visitors := ttlcache.NewCache()
	visitors.SetTTL(cfg.Window)

	return &RateLimiter{cfg: cfg, visitors: visitors}
}

func (r *RateLimiter) limiter(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, err := r.visitors.Get(ip); err == nil {
		return v.(*rate.Limiter)
	}

	l := rate.NewLimiter(rate.Every(r.cfg.Window/time.Duration(r.cfg.Requests)), r.cfg.Requests)
	r.visitors.Set(ip, l)

	return l
}

// Allow reports whether ip may make another request now
func (r *RateLimiter) Allow(ip string) bool {
	return r.limiter(ip).Allow()
}

func (r *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			c.Header("Retry-After", strconv.Itoa(int(r.cfg.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    http.StatusTooManyRequests,
					"message": r.cfg.Message,
				},
				"requestID": c.GetString("requestID"),
			})
			return
		}

		c.Next()
	}
}

// Close stops the eviction goroutine
func (r *RateLimiter) Close() error {
	return r.visitors.Close()
}

package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/vinylfeed/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按 viewer（未登录时按 IP）限流
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{rps: rate.Limit(rps), burst: burst, visitors: make(map[string]*visitor)}
}

func (l *RateLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	// 顺带清理长时间不活跃的 key
	if len(l.visitors) > 10000 {
		for k, old := range l.visitors {
			if now.Sub(old.lastSeen) > 10*time.Minute {
				delete(l.visitors, k)
			}
		}
	}
	return v.limiter
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rps <= 0 {
			c.Next()
			return
		}
		key := ViewerID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.get(key).Allow() {
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}

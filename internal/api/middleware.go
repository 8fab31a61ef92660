// internal/api/middleware.go
package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Corphon/LoreChat/internal/auth"
	"github.com/Corphon/LoreChat/internal/utils"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"

	// visitorIdleTTL 超过该时间没有请求的客户端会被清理
	visitorIdleTTL = 10 * time.Minute
)

// visitor 单个客户端的令牌桶
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端划分的令牌桶限流，perMinute 为 0 表示不限流
type RateLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	perMinute   int
	lastCleanup time.Time
	now         func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		perMinute: perMinute,
		now:       time.Now,
	}
}

func perMinuteLimit(perMinute int) rate.Limit {
	return rate.Limit(float64(perMinute) / 60)
}

// SetLimit 修改每分钟的请求数，已有客户端立即生效
func (rl *RateLimiter) SetLimit(perMinute int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if perMinute == rl.perMinute {
		return
	}
	rl.perMinute = perMinute
	now := rl.now()
	for _, v := range rl.visitors {
		v.limiter.SetLimitAt(now, perMinuteLimit(perMinute))
		v.limiter.SetBurstAt(now, perMinute)
	}
}

// Limit 当前每分钟的请求数
func (rl *RateLimiter) Limit() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.perMinute
}

// Allow checks if a visitor is allowed to make a request
func (rl *RateLimiter) Allow(key string) (allowed bool, remaining int, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.perMinute <= 0 {
		return true, -1, 0
	}

	now := rl.now()
	rl.cleanupLocked(now)

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(perMinuteLimit(rl.perMinute), rl.perMinute)}
		rl.visitors[key] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, 0, delay
	}
	return true, int(math.Max(0, math.Floor(v.limiter.TokensAt(now)))), 0
}

// cleanupLocked 移除长时间没有请求的客户端
func (rl *RateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < visitorIdleTTL {
		return
	}
	rl.lastCleanup = now
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTTL {
			delete(rl.visitors, key)
		}
	}
}

// clientKey 登录用户按用户 ID，匿名请求按 IP
func clientKey(c *gin.Context) string {
	if id := auth.FromContext(c.Request.Context()); id.SignedIn() {
		return "user:" + id.Token.UserID
	}
	return "ip:" + c.ClientIP()
}

// RateLimitMiddleware creates a rate limiting middleware
func RateLimitMiddleware(rl *RateLimiter, rh *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, retryAfter := rl.Allow(clientKey(c))
		if limit := rl.Limit(); limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			rh.Error(c, http.StatusTooManyRequests, ErrorRateLimitExceeded, "请求过于频繁，请稍后再试",
				fmt.Sprintf("retry after %s", retryAfter.Round(time.Second)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware 为每个请求分配 ID，客户端提供时沿用
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// MetricsMiddleware 记录请求数与耗时
func MetricsMiddleware(metrics *utils.ChatMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// LoggingMiddleware 请求日志，5xx 记为错误
func LoggingMiddleware() gin.HandlerFunc {
	logger := utils.GetLogger().With("http", nil)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": getRequestID(c),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("请求失败", fields)
		case status >= http.StatusBadRequest:
			logger.Warn("请求被拒绝", fields)
		default:
			logger.Debug("请求完成", fields)
		}
	}
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After, Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

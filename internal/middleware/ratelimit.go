package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"flowmail/backend/internal/cache"
	"flowmail/backend/internal/monitoring"
	"flowmail/backend/internal/storage"
)

const rateWindow = time.Minute

// RateLimiter 按来源 IP 限流。配置了共享计数器（Redis）时多实例共用固定窗口计数，
// 否则每个实例用令牌桶单独计算。
type RateLimiter struct {
	scope     string
	perMinute int
	counter   storage.RateLimitRepository
	limiters  *cache.LocalCache[*rate.Limiter]
	mu        sync.Mutex
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewRateLimiter 创建限流器。perMinute 小于等于 0 时不限流，counter 可以为 nil。
func NewRateLimiter(scope string, perMinute int, counter storage.RateLimitRepository, metrics *monitoring.Metrics, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		scope:     scope,
		perMinute: perMinute,
		counter:   counter,
		limiters:  cache.NewLocalCache[*rate.Limiter](10000, 10*time.Minute),
		metrics:   metrics,
		log:       log,
	}
}

// Middleware 返回 gin 中间件
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.perMinute <= 0 {
			c.Next()
			return
		}
		if !rl.allow(c) {
			rl.metrics.RecordRateLimitBlock(rl.scope)
			c.Header("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(c *gin.Context) bool {
	ip := c.ClientIP()

	if rl.counter != nil {
		n, err := rl.counter.IncrementRateLimit(c.Request.Context(), rl.scope+":"+ip, rateWindow)
		if err == nil {
			return n <= int64(rl.perMinute)
		}
		// 计数器不可用时退回本地令牌桶
		rl.log.Warn("rate limit counter unavailable", zap.String("scope", rl.scope), zap.Error(err))
	}

	return rl.limiterFor(ip).Allow()
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters.Get(ip); ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(rateWindow/time.Duration(rl.perMinute)), rl.perMinute)
	rl.limiters.Set(ip, l, 0)
	return l
}

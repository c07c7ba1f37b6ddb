package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"scrapeapi/backend/internal/gateway"
	"scrapeapi/backend/internal/ratelimit"
)

// AuthAttemptLimit 认证尝试限流中间件。
// 挂在登录/注册等认证入口之前，此时主体尚未解析，
// 因此按来源地址统计，窗口较长（默认 15 分钟）。
func AuthAttemptLimit(limiter *ratelimit.Limiter, ceiling int64, window time.Duration) gin.HandlerFunc {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return func(c *gin.Context) {
		scopeKey := ratelimit.AuthScopeKey(c.ClientIP())
		decision := limiter.Check(c.Request.Context(), scopeKey, ceiling, window)
		setRateHeaders(c, decision)

		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "fail",
				"message": "too many authentication attempts, please try again later",
				"code":    gateway.ReasonRateLimitExceeded,
			})
			return
		}

		c.Next()
	}
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/gateway"
	"scrapeapi/backend/internal/ratelimit"
)

// 请求上下文键
const (
	ContextUser   = "user"
	ContextUserID = "userID"
)

// APIKeyHeader 携带不透明 API 密钥的专用请求头
const APIKeyHeader = "X-API-Key"

// Gateway 网关中间件：提取请求凭证并执行完整的网关管道
// （解析 -> 限流 -> 授权），把已解析的主体挂到请求上下文。
type Gateway struct {
	pipeline *gateway.Pipeline
	timeout  time.Duration
	log      *zap.Logger
}

// NewGateway 创建网关中间件。timeout 约束整条管道的单请求期限。
func NewGateway(pipeline *gateway.Pipeline, timeout time.Duration, log *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		pipeline: pipeline,
		timeout:  timeout,
		log:      log,
	}
}

// Protect 要求请求通过网关管道。allowedRoles 为空表示仅要求已认证。
func (g *Gateway) Protect(allowedRoles ...domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, ok := extractCredential(c)
		if !ok {
			// 缺失/未知方案与其他认证失败对外不做区分
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "fail",
				"message": "authentication failed",
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), g.timeout)
		defer cancel()

		result := g.pipeline.Execute(ctx, cred, c.FullPath(), allowedRoles...)
		setRateHeaders(c, result.Rate)

		if result.Err != nil {
			g.rejected(c, result.Err)
			return
		}

		c.Set(ContextUser, result.Principal)
		c.Set(ContextUserID, result.Principal.ID)
		c.Next()
	}
}

// rejected 把网关错误分类映射为对外响应。
// 认证/授权失败只返回通用消息，内部原因已在解析器处记录。
func (g *Gateway) rejected(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrRateLimitExceeded):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"status":  "fail",
			"message": "rate limit exceeded, please try again later",
			"code":    gateway.ReasonRateLimitExceeded,
		})
	case errors.Is(err, gateway.ErrAuthorizationDenied):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"status":  "fail",
			"message": "insufficient permissions",
		})
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "service temporarily unavailable",
		})
	default:
		// ErrAuthenticationFailed 及一切未预期错误
		if !gateway.IsRejection(err) {
			g.log.Error("unexpected gateway error", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": "internal server error",
			})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"status":  "fail",
			"message": "authentication failed",
		})
	}
}

// extractCredential 从请求头提取凭证。
// Authorization: "Bearer <jwt>" 或 "Federated <token>"；
// X-API-Key 头携带不透明密钥。
func extractCredential(c *gin.Context) (domain.Credential, bool) {
	if key := c.GetHeader(APIKeyHeader); key != "" {
		return domain.APIKeyCredential(key), true
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return domain.Credential{}, false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return domain.Credential{}, false
	}

	switch parts[0] {
	case "Bearer":
		return domain.BearerCredential(parts[1]), true
	case "Federated":
		return domain.FederatedCredential(parts[1]), true
	default:
		return domain.Credential{}, false
	}
}

// setRateHeaders 暴露当前窗口的上限与剩余额度
func setRateHeaders(c *gin.Context, decision ratelimit.Decision) {
	if decision.Limit == 0 || decision.Limit == ratelimit.Unlimited {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
}

// CurrentUser 从请求上下文取出已解析的主体
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	val, exists := c.Get(ContextUser)
	if !exists {
		return nil, false
	}
	user, ok := val.(*domain.User)
	return user, ok
}

package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scrapeapi/backend/internal/auth"
	"scrapeapi/backend/internal/config"
	"scrapeapi/backend/internal/health"
	"scrapeapi/backend/internal/middleware"
	"scrapeapi/backend/internal/monitoring"
	"scrapeapi/backend/internal/ratelimit"
	"scrapeapi/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	AuthService   *auth.Service
	UserService   *service.UserService
	APIKeyService *service.APIKeyService
	AdminService  *service.AdminService
	Gateway       *middleware.Gateway
	Limiter       *ratelimit.Limiter
	Metrics       *monitoring.Metrics
	Health        *health.Checker
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.Recovery(deps.Logger, deps.Metrics))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))

	// 全局请求体大小限制 1MB，本服务没有大负载端点
	router.Use(middleware.BodySizeLimit(1 * 1024 * 1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.APIKeyHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	apiKeyHandler := NewAPIKeyHandler(deps.APIKeyService)
	adminHandler := NewAdminHandler(deps.AdminService)
	scrapeHandler := NewScrapeHandler()

	// 认证尝试限流：登录/注册按来源 IP，窗口 15 分钟
	authAttemptLimit := middleware.AuthAttemptLimit(
		deps.Limiter,
		deps.Config.RateLimit.AuthCeiling,
		deps.Config.RateLimit.AuthWindow,
	)

	// 监控与探针端点不走网关
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	router.GET("/live", gin.WrapH(deps.Health.Handler()))
	router.GET("/ready", gin.WrapH(deps.Health.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Health.Snapshot(c.Request.Context()))
	})

	v1 := router.Group("/api/v1")
	{
		// ========== Auth Routes（主体尚未解析，不走网关管道） ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/register", authAttemptLimit, authHandler.Register)
			authRoutes.POST("/login", authAttemptLimit, authHandler.Login)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.GET("/me", deps.Gateway.Protect(), authHandler.Me)
		}

		// ========== User Routes ==========
		userRoutes := v1.Group("/users")
		userRoutes.Use(deps.Gateway.Protect())
		{
			userRoutes.PATCH("/me", userHandler.UpdateProfile)
			userRoutes.POST("/me/password", userHandler.ChangePassword)
		}

		// ========== API Key Routes ==========
		apiKeyRoutes := v1.Group("/api-keys")
		apiKeyRoutes.Use(deps.Gateway.Protect())
		{
			apiKeyRoutes.POST("", apiKeyHandler.CreateAPIKey)
			apiKeyRoutes.GET("", apiKeyHandler.ListAPIKeys)
			apiKeyRoutes.GET("/:id", apiKeyHandler.GetAPIKey)
			apiKeyRoutes.DELETE("/:id", apiKeyHandler.RevokeAPIKey)
		}

		// ========== Scrape Routes（完整管道保护的业务面） ==========
		scrapeRoutes := v1.Group("/scrape")
		scrapeRoutes.Use(deps.Gateway.Protect())
		{
			scrapeRoutes.POST("", scrapeHandler.Submit)
		}

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(deps.Gateway.Protect())
		{
			adminRoutes.GET("/users", middleware.RequireAdmin(), adminHandler.ListUsers)
			adminRoutes.GET("/users/:id", middleware.RequireAdmin(), adminHandler.GetUser)
			adminRoutes.PATCH("/users/:id", middleware.RequireAdmin(), adminHandler.UpdateUser)
			adminRoutes.POST("/users/:id/deactivate", middleware.RequireAdmin(), adminHandler.DeactivateUser)
		}
	}

	return router
}

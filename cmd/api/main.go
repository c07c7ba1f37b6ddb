package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scrapeapi/backend/internal/auth"
	"scrapeapi/backend/internal/auth/assertion"
	jwtpkg "scrapeapi/backend/internal/auth/jwt"
	"scrapeapi/backend/internal/cache"
	"scrapeapi/backend/internal/config"
	"scrapeapi/backend/internal/gateway"
	"scrapeapi/backend/internal/health"
	"scrapeapi/backend/internal/logger"
	"scrapeapi/backend/internal/middleware"
	"scrapeapi/backend/internal/monitoring"
	"scrapeapi/backend/internal/ratelimit"
	"scrapeapi/backend/internal/service"
	"scrapeapi/backend/internal/storage"
	"scrapeapi/backend/internal/storage/memory"
	redisstore "scrapeapi/backend/internal/storage/redis"
	sqlstore "scrapeapi/backend/internal/storage/sql"
	httptransport "scrapeapi/backend/internal/transport/http"
)

// main 是网关 API 服务的程序入口。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()
	log.Info("starting scrapeapi gateway",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化主体存储
	var store storage.Store
	if cfg.Database.Type != "" {
		sqlStore, err := sqlstore.NewStore(sqlstore.Config{
			Type:            cfg.Database.Type,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatal("failed to initialize database", zap.Error(err))
		}
		store = sqlStore
		log.Info("using sql storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage")
	}

	// 初始化共享计数/缓存存储。初始连接失败不阻止启动：
	// 限流降级为放行，身份缓存降级为每次回源。
	counterStore := redisstore.New(redisstore.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log)
	defer counterStore.Close()

	// 监控指标
	metrics := monitoring.NewMetrics()

	// 身份缓存
	identityCache := cache.NewIdentityCache(counterStore, cfg.Cache.TTL, log)
	identityCache.SetLookupHook(func(hit bool) {
		if hit {
			metrics.CacheHits.Inc()
		} else {
			metrics.CacheMisses.Inc()
		}
	})

	// 限流器
	limiter := ratelimit.NewLimiter(counterStore, log)
	limiter.SetDecisionHook(metrics.RecordRateDecision)

	// JWT 管理器
	tokens := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)

	// 联合身份断言验证器
	assertions := assertion.Disabled()
	if cfg.Federated.Enabled {
		verifier, err := assertion.NewGoogleVerifier(ctx, cfg.Federated.Audience)
		if err != nil {
			log.Fatal("failed to initialize federated verifier", zap.Error(err))
		}
		assertions = verifier
		log.Info("federated authentication enabled",
			zap.String("audience", cfg.Federated.Audience),
		)
	}

	// 凭证解析器与网关管道
	resolver := auth.NewResolver(store, identityCache, tokens, assertions, log)
	resolver.SetFailureHook(metrics.RecordAuthFailure)
	resolver.SetSuccessHook(func(scheme string) {
		metrics.AuthSuccessTotal.WithLabelValues(scheme).Inc()
	})

	pipeline := gateway.NewPipeline(resolver, limiter, gateway.Config{
		Ceilings: ratelimit.Ceilings{
			Free:  cfg.RateLimit.FreeLimit,
			Basic: cfg.RateLimit.BasicLimit,
			Pro:   cfg.RateLimit.ProLimit,
		},
		APIWindow: cfg.RateLimit.APIWindow,
	}, log)

	gatewayMiddleware := middleware.NewGateway(pipeline, cfg.Gateway.RequestTimeout, log)

	// 业务服务
	authService := auth.NewService(store, tokens)
	userService := service.NewUserService(store, identityCache, log)
	apiKeyService := service.NewAPIKeyService(store, identityCache, log)
	adminService := service.NewAdminService(store, identityCache, log)

	// 健康检查
	checker := health.NewChecker(store, counterStore, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		AuthService:   authService,
		UserService:   userService,
		APIKeyService: apiKeyService,
		AdminService:  adminService,
		Gateway:       gatewayMiddleware,
		Limiter:       limiter,
		Metrics:       metrics,
		Health:        checker,
		Logger:        log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("gateway listening", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 计数存储可用性指标
	group.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if counterStore.Available() {
					metrics.CounterStoreUp.Set(1)
				} else {
					metrics.CounterStoreUp.Set(0)
				}
			}
		}
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("gateway terminated with error", zap.Error(err))
		return
	}
	log.Info("gateway stopped cleanly")
}

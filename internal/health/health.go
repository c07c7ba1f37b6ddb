package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"scrapeapi/backend/internal/storage"
	redisstore "scrapeapi/backend/internal/storage/redis"
)

// Checker 健康检查器。
// 存活探针只反映进程本身；就绪探针反映依赖状态：
// 主体存储不可用时认证失败关闭，实例不应再接收流量，
// 计数存储不可用时限流失败打开，实例仍然就绪。
type Checker struct {
	health  healthcheck.Handler
	store   storage.Store
	counter *redisstore.Client
	logger  *zap.Logger
}

// NewChecker 创建健康检查器
func NewChecker(store storage.Store, counter *redisstore.Client, logger *zap.Logger) *Checker {
	c := &Checker{
		health:  healthcheck.NewHandler(),
		store:   store,
		counter: counter,
		logger:  logger,
	}

	c.addChecks()

	return c
}

// addChecks 添加健康检查
func (c *Checker) addChecks() {
	c.health.AddReadinessCheck("store", func() error {
		return c.store.Health()
	})

	// 计数存储降级不影响就绪，只在存活详情里暴露
	c.health.AddLivenessCheck("counter-store", func() error {
		if c.counter == nil {
			return nil
		}
		if !c.counter.Available() {
			return fmt.Errorf("counter store unavailable: state=%s", c.counter.State())
		}
		return nil
	})
}

// Handler 返回健康检查处理器，提供 /live 与 /ready 端点
func (c *Checker) Handler() http.Handler {
	return c.health
}

// Snapshot 执行一次完整检查并返回各依赖状态
func (c *Checker) Snapshot(ctx context.Context) map[string]string {
	results := make(map[string]string)

	if err := c.store.Health(); err != nil {
		results["store"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["store"] = "OK"
	}

	if c.counter == nil {
		results["counter_store"] = "NOT_CONFIGURED"
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.counter.Ping(pingCtx); err != nil {
			results["counter_store"] = fmt.Sprintf("DEGRADED: %v", err)
		} else {
			results["counter_store"] = "OK"
		}
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}

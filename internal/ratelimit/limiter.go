package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scrapeapi/backend/internal/domain"
	redisstore "scrapeapi/backend/internal/storage/redis"
)

// Unlimited 无上限哨兵值（ENTERPRISE 等级）
const Unlimited int64 = -1

// Decision 单次限流判定结果
type Decision struct {
	Allowed   bool  `json:"allowed"`
	Limit     int64 `json:"limit"`     // 当前窗口上限，Unlimited 表示无上限
	Remaining int64 `json:"remaining"` // 当前窗口剩余额度
}

// Ceilings 各订阅等级在一个窗口内的请求上限
type Ceilings struct {
	Free  int64
	Basic int64
	Pro   int64
}

// DefaultCeilings 默认等级上限
func DefaultCeilings() Ceilings {
	return Ceilings{
		Free:  100,
		Basic: 1000,
		Pro:   10000,
	}
}

// ForTier 返回指定等级的窗口上限。未知等级按 FREE 处理。
func (c Ceilings) ForTier(tier domain.UserTier) int64 {
	switch tier {
	case domain.TierEnterprise:
		return Unlimited
	case domain.TierPro:
		return c.Pro
	case domain.TierBasic:
		return c.Basic
	default:
		return c.Free
	}
}

// Limiter 基于共享计数存储的固定窗口限流器。
//
// 算法：对 scope key 原子自增；用 set-expiry-if-absent 原语保证窗口
// TTL 存在（并发的窗口起点只建立一次 TTL，起点建立失败会被后续请求
// 补救）；再将计数与等级上限比较。
//
// 失败策略为 fail-open：计数存储不可达时放行并记录降级日志。
// 认证的正确性不容妥协，但吞吐管制允许在存储故障时放松。
type Limiter struct {
	store *redisstore.Client
	log   *zap.Logger

	// onDecision 判定回调，用于暴露指标（可为 nil）
	onDecision func(scopeClass string, allowed bool)
}

// NewLimiter 创建限流器
func NewLimiter(store *redisstore.Client, log *zap.Logger) *Limiter {
	return &Limiter{
		store: store,
		log:   log,
	}
}

// SetDecisionHook 设置判定回调（指标用）
func (l *Limiter) SetDecisionHook(hook func(scopeClass string, allowed bool)) {
	l.onDecision = hook
}

// Check 对 scopeKey 执行一次固定窗口判定。
// ceiling 为 Unlimited 时仍然计数（保留用量观测），但永不拒绝。
func (l *Limiter) Check(ctx context.Context, scopeKey string, ceiling int64, window time.Duration) Decision {
	count, err := l.store.Incr(ctx, scopeKey)
	if err != nil {
		// fail-open：存储不可达时放行
		l.log.Warn("rate limiter degraded, allowing request",
			zap.String("scope", scopeKey),
			zap.Error(err),
		)
		l.record(scopeKey, true)
		return Decision{Allowed: true, Limit: ceiling, Remaining: ceiling}
	}

	// 每次判定都尝试建立窗口 TTL：已有 TTL 时是空操作。
	// 若窗口起点的那次建立失败过，这里会补上，计数键不会无限期存活。
	if _, err := l.store.ExpireNX(ctx, scopeKey, window); err != nil {
		l.log.Warn("failed to establish rate window expiry",
			zap.String("scope", scopeKey),
			zap.Error(err),
		)
	}

	if ceiling == Unlimited {
		l.record(scopeKey, true)
		return Decision{Allowed: true, Limit: Unlimited, Remaining: Unlimited}
	}

	if count > ceiling {
		l.record(scopeKey, false)
		return Decision{Allowed: false, Limit: ceiling, Remaining: 0}
	}

	l.record(scopeKey, true)
	return Decision{Allowed: true, Limit: ceiling, Remaining: ceiling - count}
}

func (l *Limiter) record(scopeKey string, allowed bool) {
	if l.onDecision != nil {
		l.onDecision(scopeClass(scopeKey), allowed)
	}
}

// scopeClass 从 scope key 提取用途段（冒号前第一、二段）
func scopeClass(scopeKey string) string {
	for i, n := 0, 0; i < len(scopeKey); i++ {
		if scopeKey[i] == ':' {
			n++
			if n == 2 {
				return scopeKey[:i]
			}
		}
	}
	return scopeKey
}

// APIScopeKey 构造通用 API 范围键：ratelimit:api:{principal-or-ip}:{route}
func APIScopeKey(subject, route string) string {
	return fmt.Sprintf("ratelimit:api:%s:%s", subject, route)
}

// AuthScopeKey 构造认证尝试范围键（按来源地址统计，此时主体未知）：
// ratelimit:auth:{ip}
func AuthScopeKey(ip string) string {
	return fmt.Sprintf("ratelimit:auth:%s", ip)
}

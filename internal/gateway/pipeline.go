package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/ratelimit"
)

// State 管道状态机状态。迁移严格顺序化并支持短路：
// 解析失败不会进入限流，限流拒绝不会进入授权。
type State int

const (
	StateUnauthenticated State = iota
	StateResolving
	StateAuthenticated
	StateRateChecked
	StateAuthorized
	StateDispatched
	StateRejected
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateResolving:
		return "resolving"
	case StateAuthenticated:
		return "authenticated"
	case StateRateChecked:
		return "rate_checked"
	case StateAuthorized:
		return "authorized"
	case StateDispatched:
		return "dispatched"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// PrincipalResolver 凭证解析器接口（由 internal/auth 实现）
type PrincipalResolver interface {
	Resolve(ctx context.Context, cred domain.Credential) (*domain.User, error)
}

// Result 管道执行结果。Err 非空时 State 为 StateRejected。
type Result struct {
	State     State
	Principal *domain.User
	Rate      ratelimit.Decision
	Err       error
}

// Config 管道配置
type Config struct {
	Ceilings  ratelimit.Ceilings
	APIWindow time.Duration // 通用 API 范围的窗口长度
}

// Pipeline 把凭证解析、限流与授权编排为有序短路序列。
// 每个请求一个逻辑任务，任务间不共享可变状态；跨请求协调全部
// 委托给共享计数存储。超时前已提交的计数自增不回滚（至少一次计费）。
type Pipeline struct {
	resolver PrincipalResolver
	limiter  *ratelimit.Limiter
	cfg      Config
	log      *zap.Logger
}

// NewPipeline 创建网关管道
func NewPipeline(resolver PrincipalResolver, limiter *ratelimit.Limiter, cfg Config, log *zap.Logger) *Pipeline {
	if cfg.APIWindow <= 0 {
		cfg.APIWindow = time.Minute
	}
	return &Pipeline{
		resolver: resolver,
		limiter:  limiter,
		cfg:      cfg,
		log:      log,
	}
}

// Execute 执行一次完整的网关序列：
// Unauthenticated -> Resolving -> Authenticated -> RateChecked -> Authorized -> Dispatched。
// route 参与限流范围键；allowedRoles 为空表示仅要求已认证。
func (p *Pipeline) Execute(ctx context.Context, cred domain.Credential, route string, allowedRoles ...domain.UserRole) Result {
	// Resolving
	principal, err := p.resolver.Resolve(ctx, cred)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// 整条管道受单个请求期限约束，超时按上游不可用处理
			return Result{State: StateRejected, Err: ErrUpstreamUnavailable}
		}
		return Result{State: StateRejected, Err: err}
	}

	// RateChecked
	ceiling := p.cfg.Ceilings.ForTier(principal.Tier)
	scopeKey := ratelimit.APIScopeKey(principal.ID, route)
	decision := p.limiter.Check(ctx, scopeKey, ceiling, p.cfg.APIWindow)
	if !decision.Allowed {
		return Result{
			State:     StateRejected,
			Principal: principal,
			Rate:      decision,
			Err:       ErrRateLimitExceeded,
		}
	}

	// Authorized
	if !Authorize(principal, allowedRoles...) {
		return Result{
			State:     StateRejected,
			Principal: principal,
			Rate:      decision,
			Err:       ErrAuthorizationDenied,
		}
	}

	// Dispatched：主体作为不可变请求上下文交给业务逻辑
	return Result{
		State:     StateDispatched,
		Principal: principal,
		Rate:      decision,
	}
}

// Authorize 纯角色成员判定，无 I/O、无缓存。
func Authorize(principal *domain.User, allowedRoles ...domain.UserRole) bool {
	return principal.HasRole(allowedRoles...)
}

// IsRejection 判断错误是否属于网关错误分类
func IsRejection(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrAuthorizationDenied) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrUpstreamUnavailable)
}

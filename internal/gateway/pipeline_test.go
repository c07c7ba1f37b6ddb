package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/ratelimit"
	redisstore "scrapeapi/backend/internal/storage/redis"
)

// stubResolver 返回固定主体或错误的解析器
type stubResolver struct {
	principal *domain.User
	err       error
	calls     int
}

func (r *stubResolver) Resolve(ctx context.Context, cred domain.Credential) (*domain.User, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.principal, nil
}

func newTestPipeline(t *testing.T, resolver *stubResolver) (*Pipeline, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := redisstore.NewFromClient(rdb, zap.NewNop())
	t.Cleanup(func() { client.Close() })

	limiter := ratelimit.NewLimiter(client, zap.NewNop())
	pipeline := NewPipeline(resolver, limiter, Config{
		Ceilings:  ratelimit.Ceilings{Free: 2, Basic: 5, Pro: 10},
		APIWindow: time.Minute,
	}, zap.NewNop())

	return pipeline, mr
}

func principal(tier domain.UserTier, role domain.UserRole) *domain.User {
	return &domain.User{
		ID:       "u1",
		Email:    "u1@example.com",
		Role:     role,
		Tier:     tier,
		IsActive: true,
	}
}

func TestExecuteDispatches(t *testing.T) {
	resolver := &stubResolver{principal: principal(domain.TierFree, domain.RoleUser)}
	pipeline, _ := newTestPipeline(t, resolver)

	result := pipeline.Execute(context.Background(), domain.BearerCredential("token"), "/api/v1/scrape")

	assert.Equal(t, StateDispatched, result.State)
	assert.NoError(t, result.Err)
	assert.Equal(t, "u1", result.Principal.ID)
	assert.Equal(t, int64(2), result.Rate.Limit)
	assert.Equal(t, int64(1), result.Rate.Remaining)
}

func TestExecuteAuthenticationShortCircuits(t *testing.T) {
	resolver := &stubResolver{err: ErrAuthenticationFailed}
	pipeline, mr := newTestPipeline(t, resolver)

	result := pipeline.Execute(context.Background(), domain.BearerCredential("bad"), "/api/v1/scrape")

	assert.Equal(t, StateRejected, result.State)
	assert.ErrorIs(t, result.Err, ErrAuthenticationFailed)
	// 解析失败不进入限流：未产生任何计数
	assert.Empty(t, mr.Keys())
}

func TestExecuteRateLimitRejected(t *testing.T) {
	resolver := &stubResolver{principal: principal(domain.TierFree, domain.RoleUser)}
	pipeline, _ := newTestPipeline(t, resolver)
	ctx := context.Background()

	pipeline.Execute(ctx, domain.BearerCredential("token"), "/r")
	pipeline.Execute(ctx, domain.BearerCredential("token"), "/r")
	result := pipeline.Execute(ctx, domain.BearerCredential("token"), "/r")

	assert.Equal(t, StateRejected, result.State)
	assert.ErrorIs(t, result.Err, ErrRateLimitExceeded)
	assert.Equal(t, int64(0), result.Rate.Remaining)
	// 限流拒绝发生在授权之前，但主体已解析
	assert.NotNil(t, result.Principal)
}

func TestExecuteRateLimitScopePerRoute(t *testing.T) {
	resolver := &stubResolver{principal: principal(domain.TierFree, domain.RoleUser)}
	pipeline, _ := newTestPipeline(t, resolver)
	ctx := context.Background()

	pipeline.Execute(ctx, domain.BearerCredential("token"), "/a")
	pipeline.Execute(ctx, domain.BearerCredential("token"), "/a")
	blocked := pipeline.Execute(ctx, domain.BearerCredential("token"), "/a")
	require.ErrorIs(t, blocked.Err, ErrRateLimitExceeded)

	// 不同路由是独立的限流范围
	other := pipeline.Execute(ctx, domain.BearerCredential("token"), "/b")
	assert.Equal(t, StateDispatched, other.State)
}

func TestExecuteAuthorizationRejected(t *testing.T) {
	resolver := &stubResolver{principal: principal(domain.TierPro, domain.RoleUser)}
	pipeline, _ := newTestPipeline(t, resolver)

	result := pipeline.Execute(context.Background(), domain.BearerCredential("token"), "/admin", domain.RoleAdmin)

	assert.Equal(t, StateRejected, result.State)
	assert.ErrorIs(t, result.Err, ErrAuthorizationDenied)
}

func TestExecuteAuthorizationRateChargedBeforeDenial(t *testing.T) {
	resolver := &stubResolver{principal: principal(domain.TierFree, domain.RoleUser)}
	pipeline, mr := newTestPipeline(t, resolver)

	result := pipeline.Execute(context.Background(), domain.BearerCredential("token"), "/admin", domain.RoleAdmin)
	require.ErrorIs(t, result.Err, ErrAuthorizationDenied)

	// 授权拒绝的请求同样计费
	count, err := mr.Get(ratelimit.APIScopeKey("u1", "/admin"))
	require.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestExecuteEnterpriseUnlimited(t *testing.T) {
	resolver := &stubResolver{principal: principal(domain.TierEnterprise, domain.RoleUser)}
	pipeline, _ := newTestPipeline(t, resolver)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		result := pipeline.Execute(ctx, domain.BearerCredential("token"), "/r")
		require.Equal(t, StateDispatched, result.State)
		require.Equal(t, ratelimit.Unlimited, result.Rate.Limit)
	}
}

func TestExecuteDeadlineMapsToUpstreamUnavailable(t *testing.T) {
	resolver := &stubResolver{err: ErrAuthenticationFailed}
	pipeline, _ := newTestPipeline(t, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := pipeline.Execute(ctx, domain.BearerCredential("token"), "/r")

	assert.Equal(t, StateRejected, result.State)
	assert.ErrorIs(t, result.Err, ErrUpstreamUnavailable)
}

func TestAuthorize(t *testing.T) {
	admin := principal(domain.TierFree, domain.RoleAdmin)
	user := principal(domain.TierFree, domain.RoleUser)

	// 空角色列表只要求已认证
	assert.True(t, Authorize(user))
	assert.True(t, Authorize(admin, domain.RoleAdmin, domain.RoleSuperAdmin))
	assert.False(t, Authorize(user, domain.RoleAdmin))
	assert.True(t, Authorize(user, domain.RoleUser, domain.RoleAdmin))
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(ErrAuthenticationFailed))
	assert.True(t, IsRejection(ErrAuthorizationDenied))
	assert.True(t, IsRejection(ErrRateLimitExceeded))
	assert.True(t, IsRejection(ErrUpstreamUnavailable))
	assert.False(t, IsRejection(context.DeadlineExceeded))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "dispatched", StateDispatched.String())
	assert.Equal(t, "rejected", StateRejected.String())
}

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scrapeapi/backend/internal/auth/assertion"
	jwtpkg "scrapeapi/backend/internal/auth/jwt"
	"scrapeapi/backend/internal/cache"
	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/gateway"
	"scrapeapi/backend/internal/storage"
	"scrapeapi/backend/internal/storage/memory"
	redisstore "scrapeapi/backend/internal/storage/redis"
)

// stubVerifier 返回固定断言结果的验证器
type stubVerifier struct {
	identity *assertion.Identity
	err      error
}

func (v *stubVerifier) Verify(ctx context.Context, token string) (*assertion.Identity, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.identity, nil
}

// failingStore 所有读操作都失败的存储，模拟主体存储不可达
type failingStore struct {
	storage.Store
}

var errStoreDown = errors.New("store unreachable")

func (s *failingStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return nil, errStoreDown
}

func (s *failingStore) GetUserByAPIKey(ctx context.Context, key string) (*domain.User, error) {
	return nil, errStoreDown
}

type resolverFixture struct {
	resolver *Resolver
	store    *memory.Store
	tokens   *jwtpkg.Manager
	verifier *stubVerifier
	redis    *miniredis.Miniredis
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := redisstore.NewFromClient(rdb, zap.NewNop())
	t.Cleanup(func() { client.Close() })

	store := memory.NewStore()
	identityCache := cache.NewIdentityCache(client, time.Hour, zap.NewNop())
	tokens := jwtpkg.NewManager("test-secret-key-that-is-long-enough!", "scrapeapi-test", 15*time.Minute, 24*time.Hour)
	verifier := &stubVerifier{}

	return &resolverFixture{
		resolver: NewResolver(store, identityCache, tokens, verifier, zap.NewNop()),
		store:    store,
		tokens:   tokens,
		verifier: verifier,
		redis:    mr,
	}
}

func (f *resolverFixture) createUser(t *testing.T, user *domain.User) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(context.Background(), user))
}

func activeUser(id string) *domain.User {
	return &domain.User{
		ID:       id,
		Email:    id + "@example.com",
		Role:     domain.RoleUser,
		Tier:     domain.TierBasic,
		IsActive: true,
	}
}

func TestResolveBearer(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	f.createUser(t, activeUser("u1"))
	pair, err := f.tokens.GenerateTokenPair("u1", "user", "BASIC")
	require.NoError(t, err)

	user, err := f.resolver.Resolve(ctx, domain.BearerCredential(pair.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	// 解析成功后主体快照进入缓存
	assert.True(t, f.redis.Exists(cache.UserKey("u1")))
}

func TestResolveBearerExpired(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	f.createUser(t, activeUser("u1"))
	expired := jwtpkg.NewManager("test-secret-key-that-is-long-enough!", "scrapeapi-test", -time.Minute, 24*time.Hour)
	pair, err := expired.GenerateTokenPair("u1", "user", "BASIC")
	require.NoError(t, err)

	_, err = f.resolver.Resolve(ctx, domain.BearerCredential(pair.AccessToken))
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestResolveBearerUnknownPrincipal(t *testing.T) {
	f := newResolverFixture(t)

	pair, err := f.tokens.GenerateTokenPair("ghost", "user", "FREE")
	require.NoError(t, err)

	_, err = f.resolver.Resolve(context.Background(), domain.BearerCredential(pair.AccessToken))
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestResolveBearerInactivePrincipal(t *testing.T) {
	f := newResolverFixture(t)

	user := activeUser("u1")
	user.IsActive = false
	f.createUser(t, user)

	pair, err := f.tokens.GenerateTokenPair("u1", "user", "BASIC")
	require.NoError(t, err)

	_, err = f.resolver.Resolve(context.Background(), domain.BearerCredential(pair.AccessToken))
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestResolveBearerFailClosedOnStoreError(t *testing.T) {
	f := newResolverFixture(t)

	pair, err := f.tokens.GenerateTokenPair("u1", "user", "BASIC")
	require.NoError(t, err)

	// 换上不可达的主体存储：身份不能被假定，必须 fail-closed
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := redisstore.NewFromClient(rdb, zap.NewNop())
	t.Cleanup(func() { client.Close() })
	identityCache := cache.NewIdentityCache(client, time.Hour, zap.NewNop())

	resolver := NewResolver(&failingStore{}, identityCache, f.tokens, f.verifier, zap.NewNop())

	_, err = resolver.Resolve(context.Background(), domain.BearerCredential(pair.AccessToken))
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestResolveAPIKey(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	f.createUser(t, activeUser("u1"))
	require.NoError(t, f.store.SaveAPIKey(ctx, &domain.APIKey{
		ID:       "k1",
		UserID:   "u1",
		Key:      "sk-valid-key",
		IsActive: true,
	}))

	user, err := f.resolver.Resolve(ctx, domain.APIKeyCredential("sk-valid-key"))
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	// lastUsed 异步更新，最终可见
	assert.Eventually(t, func() bool {
		key, err := f.store.GetAPIKey(ctx, "k1")
		return err == nil && key.LastUsedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveAPIKeyUnknown(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.Resolve(context.Background(), domain.APIKeyCredential("sk-nope"))
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestResolveAPIKeyRevoked(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	f.createUser(t, activeUser("u1"))
	require.NoError(t, f.store.SaveAPIKey(ctx, &domain.APIKey{
		ID:       "k1",
		UserID:   "u1",
		Key:      "sk-revoked",
		IsActive: false,
	}))

	_, err := f.resolver.Resolve(ctx, domain.APIKeyCredential("sk-revoked"))
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestResolveAPIKeyExpired(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	f.createUser(t, activeUser("u1"))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.store.SaveAPIKey(ctx, &domain.APIKey{
		ID:        "k1",
		UserID:    "u1",
		Key:       "sk-expired",
		IsActive:  true,
		ExpiresAt: &past,
	}))

	_, err := f.resolver.Resolve(ctx, domain.APIKeyCredential("sk-expired"))
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestResolveFederatedProvisionsNewUser(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	f.verifier.identity = &assertion.Identity{
		Email:         "new@example.com",
		Subject:       "google-sub-1",
		EmailVerified: true,
		Name:          "New User",
	}

	user, err := f.resolver.Resolve(ctx, domain.FederatedCredential("assertion-token"))
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.Equal(t, domain.TierFree, user.Tier)
	assert.True(t, user.IsEmailVerified)
	assert.Equal(t, "google-sub-1", user.FederatedSubject)

	// 幂等：第二次解析复用同一主体
	again, err := f.resolver.Resolve(ctx, domain.FederatedCredential("assertion-token"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestResolveFederatedConcurrentFirstSight(t *testing.T) {
	f := newResolverFixture(t)

	f.verifier.identity = &assertion.Identity{
		Email:   "race@example.com",
		Subject: "google-sub-race",
	}

	// 同一联合身份的首次出现被并发解析：唯一约束保证只注册一个主体，
	// 输掉创建竞争的解析重查后收敛，不使请求失败
	const parallel = 16
	users := make([]*domain.User, parallel)
	errs := make([]error, parallel)

	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			users[i], errs[i] = f.resolver.Resolve(context.Background(), domain.FederatedCredential("assertion-token"))
		}(i)
	}
	wg.Wait()

	all, err := f.store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1, "exactly one principal must be provisioned")

	for i := 0; i < parallel; i++ {
		require.NoError(t, errs[i], "resolution %d must not fail", i)
		assert.Equal(t, all[0].ID, users[i].ID)
	}
}

func TestResolveFederatedExistingUser(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	existing := activeUser("u1")
	existing.Email = "known@example.com"
	existing.Tier = domain.TierPro
	f.createUser(t, existing)

	f.verifier.identity = &assertion.Identity{Email: "known@example.com", Subject: "sub-2"}

	user, err := f.resolver.Resolve(ctx, domain.FederatedCredential("assertion-token"))
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, domain.TierPro, user.Tier, "existing account must not be re-provisioned")
}

func TestResolveFederatedAssertionRejected(t *testing.T) {
	f := newResolverFixture(t)

	f.verifier.err = assertion.ErrAssertionInvalid

	_, err := f.resolver.Resolve(context.Background(), domain.FederatedCredential("bad-token"))
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestResolveUnknownScheme(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.Resolve(context.Background(), domain.Credential{Scheme: "basic", Value: "x"})
	assert.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestResolveFailureHook(t *testing.T) {
	f := newResolverFixture(t)

	var scheme, cause string
	f.resolver.SetFailureHook(func(s, c string) {
		scheme, cause = s, c
	})

	_, err := f.resolver.Resolve(context.Background(), domain.BearerCredential("garbage"))
	require.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
	assert.Equal(t, "bearer", scheme)
	assert.Equal(t, "token_invalid", cause)
}

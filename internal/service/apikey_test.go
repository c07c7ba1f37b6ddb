package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scrapeapi/backend/internal/cache"
	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/storage/memory"
	redisstore "scrapeapi/backend/internal/storage/redis"
)

type serviceFixture struct {
	store *memory.Store
	cache *cache.IdentityCache
	redis *miniredis.Miniredis
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := redisstore.NewFromClient(rdb, zap.NewNop())
	t.Cleanup(func() { client.Close() })

	return &serviceFixture{
		store: memory.NewStore(),
		cache: cache.NewIdentityCache(client, time.Hour, zap.NewNop()),
		redis: mr,
	}
}

func (f *serviceFixture) createUser(t *testing.T, id string) *domain.User {
	t.Helper()
	user := &domain.User{
		ID:       id,
		Email:    id + "@example.com",
		Role:     domain.RoleUser,
		Tier:     domain.TierFree,
		IsActive: true,
	}
	require.NoError(t, f.store.CreateUser(context.Background(), user))
	return user
}

func TestCreateAPIKey(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewAPIKeyService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	f.createUser(t, "u1")

	key, err := svc.CreateAPIKey(ctx, CreateAPIKeyInput{
		UserID: "u1",
		Name:   "ci key",
	})
	require.NoError(t, err)

	assert.Len(t, key.Key, 48)
	assert.Equal(t, key.Key[:8], key.KeyPrefix)
	assert.True(t, key.IsActive)
	assert.Nil(t, key.ExpiresAt)
	// 未指定权限时默认只读
	assert.Equal(t, []string{string(domain.PermissionRead)}, key.Permissions)
}

func TestCreateAPIKeyWithExpiry(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewAPIKeyService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	f.createUser(t, "u1")

	expiresIn := 24 * time.Hour
	key, err := svc.CreateAPIKey(ctx, CreateAPIKeyInput{
		UserID:    "u1",
		Name:      "short-lived",
		ExpiresIn: &expiresIn,
	})
	require.NoError(t, err)
	require.NotNil(t, key.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(expiresIn), *key.ExpiresAt, time.Minute)

	negative := -time.Hour
	_, err = svc.CreateAPIKey(ctx, CreateAPIKeyInput{
		UserID:    "u1",
		Name:      "bad",
		ExpiresIn: &negative,
	})
	assert.ErrorIs(t, err, ErrBadKeyExpiry)
}

func TestCreateAPIKeyUnknownUser(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewAPIKeyService(f.store, f.cache, zap.NewNop())

	_, err := svc.CreateAPIKey(context.Background(), CreateAPIKeyInput{UserID: "ghost", Name: "x"})
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestRevokeAPIKeyInvalidatesCache(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewAPIKeyService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	f.createUser(t, "u1")
	key, err := svc.CreateAPIKey(ctx, CreateAPIKeyInput{UserID: "u1", Name: "k"})
	require.NoError(t, err)

	// 模拟网关已缓存该密钥对应的主体快照
	_, err = f.cache.Get(ctx, cache.APIKeyKey(key.Key), func(ctx context.Context) (*domain.User, error) {
		return f.store.GetUserByAPIKey(ctx, key.Key)
	})
	require.NoError(t, err)
	require.True(t, f.redis.Exists(cache.APIKeyKey(key.Key)))

	require.NoError(t, svc.RevokeAPIKey(ctx, "u1", key.ID))

	// 撤销成功返回前缓存条目已失效
	assert.False(t, f.redis.Exists(cache.APIKeyKey(key.Key)))

	keys, err := svc.ListAPIKeys(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRevokeAPIKeyOwnershipEnforced(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewAPIKeyService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	f.createUser(t, "u1")
	f.createUser(t, "u2")
	key, err := svc.CreateAPIKey(ctx, CreateAPIKeyInput{UserID: "u1", Name: "k"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RevokeAPIKey(ctx, "u2", key.ID), ErrNotKeyOwner)
	assert.ErrorIs(t, svc.RevokeAPIKey(ctx, "u1", "missing"), ErrAPIKeyNotFound)
}

func TestAdminUpdateUserInvalidatesCache(t *testing.T) {
	f := newServiceFixture(t)
	admin := NewAdminService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	operator := f.createUser(t, "op")
	operator.Role = domain.RoleSuperAdmin
	require.NoError(t, f.store.UpdateUser(ctx, operator))

	target := f.createUser(t, "u1")

	// 模拟网关已缓存目标用户快照
	_, err := f.cache.Get(ctx, cache.UserKey(target.ID), func(ctx context.Context) (*domain.User, error) {
		return f.store.GetUserByID(ctx, target.ID)
	})
	require.NoError(t, err)
	require.True(t, f.redis.Exists(cache.UserKey(target.ID)))

	tier := domain.TierPro
	updated, err := admin.UpdateUser(ctx, UpdateUserInput{
		UserID:     target.ID,
		Tier:       &tier,
		OperatorID: operator.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, updated.Tier)

	assert.False(t, f.redis.Exists(cache.UserKey(target.ID)))
}

func TestAdminUpdateUserGuards(t *testing.T) {
	f := newServiceFixture(t)
	admin := NewAdminService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	operator := f.createUser(t, "op")
	operator.Role = domain.RoleAdmin
	require.NoError(t, f.store.UpdateUser(ctx, operator))

	super := f.createUser(t, "root")
	super.Role = domain.RoleSuperAdmin
	require.NoError(t, f.store.UpdateUser(ctx, super))

	target := f.createUser(t, "u1")

	// 不能修改自己
	active := false
	_, err := admin.UpdateUser(ctx, UpdateUserInput{UserID: "op", IsActive: &active, OperatorID: "op"})
	assert.ErrorIs(t, err, ErrCannotModifySelf)

	// 普通管理员不能修改超级管理员
	_, err = admin.UpdateUser(ctx, UpdateUserInput{UserID: "root", IsActive: &active, OperatorID: "op"})
	assert.ErrorIs(t, err, ErrCannotModifySuper)

	// 只有超级管理员能设置角色
	role := domain.RoleAdmin
	_, err = admin.UpdateUser(ctx, UpdateUserInput{UserID: target.ID, Role: &role, OperatorID: "op"})
	assert.ErrorIs(t, err, ErrInsufficientPermission)

	_, err = admin.UpdateUser(ctx, UpdateUserInput{UserID: target.ID, Role: &role, OperatorID: "root"})
	assert.NoError(t, err)
}

func TestDeactivateUser(t *testing.T) {
	f := newServiceFixture(t)
	admin := NewAdminService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	operator := f.createUser(t, "op")
	operator.Role = domain.RoleAdmin
	require.NoError(t, f.store.UpdateUser(ctx, operator))

	target := f.createUser(t, "u1")

	require.NoError(t, admin.DeactivateUser(ctx, target.ID, operator.ID))

	got, err := f.store.GetUserByID(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

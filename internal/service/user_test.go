package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"scrapeapi/backend/internal/cache"
	"scrapeapi/backend/internal/domain"
)

func (f *serviceFixture) createUserWithPassword(t *testing.T, id, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &domain.User{
		ID:           id,
		Email:        id + "@example.com",
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		Tier:         domain.TierFree,
		IsActive:     true,
	}
	require.NoError(t, f.store.CreateUser(context.Background(), user))
	return user
}

func TestGetProfile(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewUserService(f.store, f.cache, zap.NewNop())

	f.createUser(t, "u1")

	user, err := svc.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", user.Email)

	_, err = svc.GetProfile(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrProfileUserNotFound)
}

func TestUpdateProfileInvalidatesCache(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewUserService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	target := f.createUser(t, "u1")

	_, err := f.cache.Get(ctx, cache.UserKey(target.ID), func(ctx context.Context) (*domain.User, error) {
		return f.store.GetUserByID(ctx, target.ID)
	})
	require.NoError(t, err)
	require.True(t, f.redis.Exists(cache.UserKey(target.ID)))

	name := "Alice"
	updated, err := svc.UpdateProfile(ctx, UpdateProfileInput{UserID: target.ID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Name)

	assert.False(t, f.redis.Exists(cache.UserKey(target.ID)))
}

func TestChangePassword(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewUserService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	f.createUserWithPassword(t, "u1", "old-password")

	require.NoError(t, svc.ChangePassword(ctx, "u1", "old-password", "new-password-123"))

	// 新哈希已持久化
	user, err := f.store.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("new-password-123")))
}

func TestChangePasswordRejections(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewUserService(f.store, f.cache, zap.NewNop())
	ctx := context.Background()

	f.createUserWithPassword(t, "u1", "old-password")

	assert.ErrorIs(t, svc.ChangePassword(ctx, "u1", "wrong-password", "new-password-123"), ErrWrongPassword)
	assert.ErrorIs(t, svc.ChangePassword(ctx, "u1", "old-password", "short"), ErrWeakPassword)
	assert.ErrorIs(t, svc.ChangePassword(ctx, "ghost", "x", "new-password-123"), ErrProfileUserNotFound)
}

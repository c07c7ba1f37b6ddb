package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtpkg "scrapeapi/backend/internal/auth/jwt"
	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/storage/memory"
)

func newTestService() (*Service, *memory.Store) {
	store := memory.NewStore()
	tokens := jwtpkg.NewManager("test-secret-key-that-is-long-enough!", "scrapeapi-test", 15*time.Minute, 24*time.Hour)
	return NewService(store, tokens), store
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{
		Email:    "Alice@Example.com",
		Password: "password123",
		Name:     "Alice",
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", user.Email, "email must be normalized")
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.Equal(t, domain.TierFree, user.Tier)
	assert.True(t, user.IsActive)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "password123", user.PasswordHash)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "ALICE@example.com", Password: "password456"})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	user, pair, err := svc.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.Login(context.Background(), "nobody@example.com", "password123")
	// 不区分“用户不存在”与“密码错误”
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

type lastLoginFailStore struct {
	*memory.Store
}

func (s *lastLoginFailStore) UpdateLastLogin(ctx context.Context, userID string) error {
	return errors.New("stats column unavailable")
}

func TestLoginSurvivesLastLoginUpdateFailure(t *testing.T) {
	store := memory.NewStore()
	tokens := jwtpkg.NewManager("test-secret-key-that-is-long-enough!", "scrapeapi-test", 15*time.Minute, 24*time.Hour)
	svc := NewService(&lastLoginFailStore{Store: store}, tokens)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	// 登录时间更新是尽力而为，失败不应使登录失败
	user, pair, err := svc.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Nil(t, user.LastLoginAt)
}

func TestLoginInactiveUser(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	user.IsActive = false
	require.NoError(t, store.UpdateUser(ctx, user))

	_, _, err = svc.Login(ctx, "alice@example.com", "password123")
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestRefresh(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	_, pair, err := svc.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)

	accessToken, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, accessToken)

	_, err = svc.Refresh(ctx, "garbage")
	assert.Error(t, err)
}

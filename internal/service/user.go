package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"scrapeapi/backend/internal/cache"
	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/storage"
)

var (
	// ErrProfileUserNotFound 用户不存在
	ErrProfileUserNotFound = errors.New("user not found")
	// ErrWeakPassword 新密码强度不足
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrWrongPassword 当前密码错误
	ErrWrongPassword = errors.New("current password is incorrect")
)

// UserService 用户自助资料服务。
// 资料变更在返回成功前失效身份缓存，下一次未命中即可见。
type UserService struct {
	store  storage.Store
	cache  *cache.IdentityCache
	logger *zap.Logger
}

// NewUserService 创建用户服务
func NewUserService(store storage.Store, identityCache *cache.IdentityCache, logger *zap.Logger) *UserService {
	return &UserService{
		store:  store,
		cache:  identityCache,
		logger: logger,
	}
}

// GetProfile 获取用户资料
func (s *UserService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, ErrProfileUserNotFound
	}
	return user, nil
}

// UpdateProfileInput 更新资料的输入参数
type UpdateProfileInput struct {
	UserID string
	Name   *string
}

// UpdateProfile 更新用户资料
func (s *UserService) UpdateProfile(ctx context.Context, input UpdateProfileInput) (*domain.User, error) {
	user, err := s.store.GetUserByID(ctx, input.UserID)
	if err != nil {
		return nil, ErrProfileUserNotFound
	}

	if input.Name != nil {
		user.Name = *input.Name
	}
	user.UpdatedAt = time.Now()

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.invalidate(ctx, user.ID)

	return user, nil
}

// ChangePassword 修改密码，需要先验证当前密码
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return ErrProfileUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrWrongPassword
	}
	if len(next) < 8 {
		return ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user.PasswordHash = string(hash)
	user.UpdatedAt = time.Now()

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	s.invalidate(ctx, user.ID)

	return nil
}

func (s *UserService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.UserKey(userID)); err != nil {
		s.logger.Warn("identity cache invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

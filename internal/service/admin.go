package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scrapeapi/backend/internal/cache"
	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/storage"
)

var (
	// ErrUnauthorized 未授权访问
	ErrUnauthorized = errors.New("unauthorized access")
	// ErrInsufficientPermission 权限不足
	ErrInsufficientPermission = errors.New("insufficient permissions")
	// ErrAdminUserNotFound 用户不存在
	ErrAdminUserNotFound = errors.New("user not found")
	// ErrCannotModifySelf 不能修改自己
	ErrCannotModifySelf = errors.New("cannot modify self")
	// ErrCannotModifySuper 不能修改超级管理员
	ErrCannotModifySuper = errors.New("cannot modify super admin")
)

// AdminService 管理服务。
// 角色/等级/启用状态的变更直接影响网关判定，
// 因此每个变更在返回成功前失效目标用户的全部身份缓存键。
type AdminService struct {
	store  storage.Store
	cache  *cache.IdentityCache
	logger *zap.Logger
}

// NewAdminService 创建管理服务
func NewAdminService(store storage.Store, identityCache *cache.IdentityCache, logger *zap.Logger) *AdminService {
	return &AdminService{
		store:  store,
		cache:  identityCache,
		logger: logger,
	}
}

// ListUsers 列出所有用户（需要管理员权限）
func (s *AdminService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.store.ListUsers(ctx)
}

// GetUser 获取用户详情（需要管理员权限）
func (s *AdminService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, ErrAdminUserNotFound
	}
	return user, nil
}

// UpdateUserInput 更新用户的输入参数
type UpdateUserInput struct {
	UserID     string
	Role       *domain.UserRole
	Tier       *domain.UserTier
	IsActive   *bool
	OperatorID string // 操作者ID
}

// UpdateUser 更新用户的角色/等级/启用状态（需要管理员权限）
func (s *AdminService) UpdateUser(ctx context.Context, input UpdateUserInput) (*domain.User, error) {
	// 不能修改自己
	if input.UserID == input.OperatorID {
		return nil, ErrCannotModifySelf
	}

	user, err := s.store.GetUserByID(ctx, input.UserID)
	if err != nil {
		return nil, ErrAdminUserNotFound
	}

	operator, err := s.store.GetUserByID(ctx, input.OperatorID)
	if err != nil {
		return nil, ErrUnauthorized
	}

	// 不能修改超级管理员（除非自己也是超级管理员）
	if user.Role == domain.RoleSuperAdmin && !operator.IsSuperAdmin() {
		return nil, ErrCannotModifySuper
	}

	if input.Role != nil {
		// 只有超级管理员才能设置角色
		if !operator.IsSuperAdmin() {
			return nil, ErrInsufficientPermission
		}
		user.Role = *input.Role
	}

	if input.Tier != nil {
		user.Tier = *input.Tier
	}

	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}

	user.UpdatedAt = time.Now()

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.invalidateUser(ctx, user.ID)

	return user, nil
}

// DeactivateUser 停用用户（需要管理员权限）。
// 停用后新请求在一次缓存未命中内开始被拒绝。
func (s *AdminService) DeactivateUser(ctx context.Context, userID, operatorID string) error {
	inactive := false
	_, err := s.UpdateUser(ctx, UpdateUserInput{
		UserID:     userID,
		IsActive:   &inactive,
		OperatorID: operatorID,
	})
	return err
}

// invalidateUser 失效用户快照及其全部API密钥对应的缓存条目。
// 密钥缓存条目内嵌了用户快照，角色/等级变更同样使其过时。
func (s *AdminService) invalidateUser(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}

	keys := []string{cache.UserKey(userID)}
	if apiKeys, err := s.store.ListAPIKeysByUserID(ctx, userID); err == nil {
		for _, k := range apiKeys {
			keys = append(keys, cache.APIKeyKey(k.Key))
		}
	} else {
		s.logger.Warn("list api keys for invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("identity cache invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

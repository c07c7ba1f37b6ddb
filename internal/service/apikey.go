package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scrapeapi/backend/internal/cache"
	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/storage"
)

var (
	ErrAPIKeyNotFound = errors.New("API key not found")
	ErrNotKeyOwner    = errors.New("permission denied: not the key owner")
	ErrOwnerNotFound  = errors.New("user not found")
	ErrTooManyAPIKeys = errors.New("api key quota exceeded")
	ErrBadKeyExpiry   = errors.New("expiry must be in the future")
)

// 单用户可持有的密钥数量上限
const maxKeysPerUser = 20

// APIKeyService API密钥业务逻辑服务。
// 所有变更操作在返回成功前使身份缓存失效，
// 保证撤销/修改最多经历一次缓存未命中即可见。
type APIKeyService struct {
	store  storage.Store
	cache  *cache.IdentityCache
	logger *zap.Logger
}

// NewAPIKeyService 创建API密钥服务
func NewAPIKeyService(store storage.Store, identityCache *cache.IdentityCache, logger *zap.Logger) *APIKeyService {
	return &APIKeyService{
		store:  store,
		cache:  identityCache,
		logger: logger,
	}
}

// CreateAPIKeyInput 创建API密钥的输入参数
type CreateAPIKeyInput struct {
	UserID      string
	Name        string
	Permissions []string       // 为空时默认只读
	ExpiresIn   *time.Duration // 过期时间（可选，永不过期时省略）
}

// CreateAPIKey 为用户创建新的API密钥。
// 密钥值只在创建响应中完整出现一次，之后仅展示前缀。
func (s *APIKeyService) CreateAPIKey(ctx context.Context, input CreateAPIKeyInput) (*domain.APIKey, error) {
	user, err := s.store.GetUserByID(ctx, input.UserID)
	if err != nil {
		return nil, ErrOwnerNotFound
	}

	existing, err := s.store.ListAPIKeysByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	if len(existing) >= maxKeysPerUser {
		return nil, ErrTooManyAPIKeys
	}

	key, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	var expiresAt *time.Time
	if input.ExpiresIn != nil {
		if *input.ExpiresIn <= 0 {
			return nil, ErrBadKeyExpiry
		}
		t := time.Now().Add(*input.ExpiresIn)
		expiresAt = &t
	}

	permissions := input.Permissions
	if len(permissions) == 0 {
		permissions = []string{string(domain.PermissionRead)}
	}

	// 前缀用于列表展示，避免回显完整密钥
	keyPrefix := key
	if len(key) > 8 {
		keyPrefix = key[:8]
	}

	apiKey := &domain.APIKey{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Key:         key,
		KeyPrefix:   keyPrefix,
		Name:        input.Name,
		Permissions: permissions,
		IsActive:    true,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}

	if err := s.store.SaveAPIKey(ctx, apiKey); err != nil {
		return nil, fmt.Errorf("save api key: %w", err)
	}

	// 用户快照内嵌密钥列表，创建后同样需要失效
	s.invalidate(ctx, cache.UserKey(user.ID))

	return apiKey, nil
}

// ListAPIKeys 列出用户的全部API密钥
func (s *APIKeyService) ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	return s.store.ListAPIKeysByUserID(ctx, userID)
}

// GetAPIKey 获取指定用户名下的API密钥详情
func (s *APIKeyService) GetAPIKey(ctx context.Context, userID, id string) (*domain.APIKey, error) {
	apiKey, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, ErrAPIKeyNotFound
	}
	if apiKey.UserID != userID {
		return nil, ErrNotKeyOwner
	}
	return apiKey, nil
}

// RevokeAPIKey 撤销（删除）API密钥。
// 缓存失效先于返回成功，撤销后的密钥最多一次未命中后拒绝。
func (s *APIKeyService) RevokeAPIKey(ctx context.Context, userID, id string) error {
	apiKey, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return ErrAPIKeyNotFound
	}

	if apiKey.UserID != userID {
		return ErrNotKeyOwner
	}

	if err := s.store.DeleteAPIKey(ctx, id); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}

	s.invalidate(ctx, cache.APIKeyKey(apiKey.Key), cache.UserKey(userID))

	return nil
}

// invalidate 使指定缓存键失效，失败只记录日志。
// 失效失败时旧快照最迟在 TTL 到期后消失。
func (s *APIKeyService) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("identity cache invalidation failed",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
}

// generateAPIKey 生成一个安全的随机API密钥（48字符，URL安全）
func generateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}

	key := base64.URLEncoding.EncodeToString(bytes)
	if len(key) > 48 {
		key = key[:48]
	}

	return key, nil
}

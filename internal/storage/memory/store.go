package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/storage"
)

// Store 使用内存保存主体与API密钥数据，主要用于开发验证与测试。
type Store struct {
	mu       sync.RWMutex
	users    map[string]*domain.User   // userID -> user
	byEmail  map[string]string         // email -> userID
	apiKeys  map[string]*domain.APIKey // apiKeyID -> apiKey
	byAPIKey map[string]string         // key -> apiKeyID
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*domain.User),
		byEmail:  make(map[string]string),
		apiKeys:  make(map[string]*domain.APIKey),
		byAPIKey: make(map[string]string),
	}
}

// CreateUser 创建用户。email 冲突时返回 ErrEmailExists，
// 与 SQL 存储的唯一索引行为保持一致。
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, ok := s.byEmail[email]; ok {
		return storage.ErrEmailExists
	}

	clone := *user
	s.users[user.ID] = &clone
	s.byEmail[email] = user.ID
	return nil
}

// GetUserByID 按ID查询用户
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// GetUserByEmail 按邮箱查询用户
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

// GetUserByAPIKey 按API密钥值查询所属用户
func (s *Store) GetUserByAPIKey(ctx context.Context, key string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyID, ok := s.byAPIKey[key]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	apiKey := s.apiKeys[keyID]
	user, ok := s.users[apiKey.UserID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}

	clone := *user
	keyClone := *apiKey
	clone.APIKeys = []domain.APIKey{keyClone}
	return &clone, nil
}

// ListUsers 列出全部用户
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*domain.User, 0, len(s.users))
	for _, user := range s.users {
		clone := *user
		users = append(users, &clone)
	}
	return users, nil
}

// UpdateUser 更新用户
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}

	oldEmail := strings.ToLower(existing.Email)
	newEmail := strings.ToLower(user.Email)
	if oldEmail != newEmail {
		if _, taken := s.byEmail[newEmail]; taken {
			return storage.ErrEmailExists
		}
		delete(s.byEmail, oldEmail)
		s.byEmail[newEmail] = user.ID
	}

	user.UpdatedAt = time.Now()
	clone := *user
	s.users[user.ID] = &clone
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	now := time.Now()
	user.LastLoginAt = &now
	return nil
}

// SaveAPIKey 保存API密钥
func (s *Store) SaveAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[key.UserID]; !ok {
		return storage.ErrUserNotFound
	}

	clone := *key
	s.apiKeys[key.ID] = &clone
	s.byAPIKey[key.Key] = key.ID
	return nil
}

// GetAPIKey 按ID查询API密钥
func (s *Store) GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return nil, storage.ErrAPIKeyNotFound
	}
	clone := *key
	return &clone, nil
}

// GetAPIKeyByKey 按密钥值查询API密钥
func (s *Store) GetAPIKeyByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAPIKey[key]
	if !ok {
		return nil, storage.ErrAPIKeyNotFound
	}
	clone := *s.apiKeys[id]
	return &clone, nil
}

// ListAPIKeysByUserID 列出用户的全部API密钥
func (s *Store) ListAPIKeysByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*domain.APIKey, 0)
	for _, key := range s.apiKeys {
		if key.UserID == userID {
			clone := *key
			keys = append(keys, &clone)
		}
	}
	return keys, nil
}

// DeleteAPIKey 删除API密钥
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return storage.ErrAPIKeyNotFound
	}
	delete(s.byAPIKey, key.Key)
	delete(s.apiKeys, id)
	return nil
}

// UpdateAPIKeyLastUsed 更新API密钥最后使用时间
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return storage.ErrAPIKeyNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

// Health 检查存储层连接状态（内存存储恒为健康）
func (s *Store) Health() error {
	return nil
}

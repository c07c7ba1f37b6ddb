package storage

import (
	"context"
	"errors"

	"scrapeapi/backend/internal/domain"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailExists 邮箱已存在（email 唯一约束冲突）
	ErrEmailExists = errors.New("email already exists")
	// ErrAPIKeyNotFound API密钥不存在
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// UserRepository 定义主体（principal）数据存取操作。
// CreateUser 在 email 冲突时必须返回 ErrEmailExists，
// 联合身份的幂等注册依赖这一约定（冲突后重查而非报错）。
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByAPIKey(ctx context.Context, key string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	UpdateLastLogin(ctx context.Context, userID string) error
}

// APIKeyRepository 定义API密钥数据存取操作。
type APIKeyRepository interface {
	SaveAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error)
	GetAPIKeyByKey(ctx context.Context, key string) (*domain.APIKey, error)
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// Store 聚合主体存储的全部能力。
type Store interface {
	UserRepository
	APIKeyRepository

	// Health 检查存储层连接状态
	Health() error
}

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/storage"
)

// Store 基于 gorm 的主体持久化存储，支持 MySQL 与 PostgreSQL。
type Store struct {
	db *gorm.DB
}

// Config SQL 存储配置
type Config struct {
	Type            string // "mysql" 或 "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore 创建 SQL 存储实例并自动迁移表结构。
// email 的唯一索引由迁移建立，是联合身份幂等注册的前提。
func NewStore(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&domain.User{}, &domain.APIKey{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateUser 创建用户。email 唯一约束冲突时返回 ErrEmailExists。
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrEmailExists
	}
	return err
}

// GetUserByID 按ID查询用户
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail 按邮箱查询用户
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByAPIKey 按API密钥值查询所属用户，并附带匹配到的密钥记录。
func (s *Store) GetUserByAPIKey(ctx context.Context, key string) (*domain.User, error) {
	var apiKey domain.APIKey
	err := s.db.WithContext(ctx).First(&apiKey, "key_value = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	user, err := s.GetUserByID(ctx, apiKey.UserID)
	if err != nil {
		return nil, err
	}
	user.APIKeys = []domain.APIKey{apiKey}
	return user, nil
}

// ListUsers 列出全部用户
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	if err := s.db.WithContext(ctx).Order("created_at").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUser 更新用户
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	result := s.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", user.ID).
		Select("email", "name", "password_hash", "role", "tier", "is_active", "is_email_verified", "updated_at").
		Updates(map[string]interface{}{
			"email":             user.Email,
			"name":              user.Name,
			"password_hash":     user.PasswordHash,
			"role":              user.Role,
			"tier":              user.Tier,
			"is_active":         user.IsActive,
			"is_email_verified": user.IsEmailVerified,
			"updated_at":        time.Now(),
		})
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return storage.ErrEmailExists
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("last_login_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// SaveAPIKey 保存API密钥
func (s *Store) SaveAPIKey(ctx context.Context, key *domain.APIKey) error {
	return s.db.WithContext(ctx).Create(key).Error
}

// GetAPIKey 按ID查询API密钥
func (s *Store) GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error) {
	var apiKey domain.APIKey
	err := s.db.WithContext(ctx).First(&apiKey, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &apiKey, nil
}

// GetAPIKeyByKey 按密钥值查询API密钥
func (s *Store) GetAPIKeyByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	var apiKey domain.APIKey
	err := s.db.WithContext(ctx).First(&apiKey, "key_value = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &apiKey, nil
}

// ListAPIKeysByUserID 列出用户的全部API密钥
func (s *Store) ListAPIKeysByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteAPIKey 删除API密钥
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&domain.APIKey{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAPIKeyNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed 更新API密钥最后使用时间
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
}

// Health 检查数据库连接状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return s.ping(sqlDB)
}

func (s *Store) ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	jwtpkg "scrapeapi/backend/internal/auth/jwt"
	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/storage"
)

var (
	// ErrInvalidEmail 无效的邮箱格式
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrInvalidPassword 无效的密码
	ErrInvalidPassword = errors.New("password must be at least 8 characters")
	// ErrEmailExists 邮箱已存在
	ErrEmailExists = errors.New("email already exists")
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserInactive 用户已被禁用
	ErrUserInactive = errors.New("user is inactive")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Service 账号认证服务：注册、登录、刷新令牌。
// 密码策略之外的账号生命周期（订阅、邮件验证等）不在本层。
type Service struct {
	store  storage.Store
	tokens *jwtpkg.Manager
}

// NewService 创建认证服务
func NewService(store storage.Store, tokens *jwtpkg.Manager) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
	}
}

// RegisterInput 注册输入
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Register 用户注册。新用户固定为 role=user、tier=FREE。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !emailRegex.MatchString(email) {
		return nil, ErrInvalidEmail
	}
	if len(input.Password) < 8 {
		return nil, ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         input.Name,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		Tier:         domain.TierFree,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Login 校验邮箱密码并签发令牌对
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, *jwtpkg.TokenPair, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	pair, err := s.tokens.GenerateTokenPair(user.ID, string(user.Role), string(user.Tier))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	// 登录时间只是统计信息，更新失败不影响登录
	_ = s.store.UpdateLastLogin(ctx, user.ID)

	return user, pair, nil
}

// Refresh 使用刷新令牌换取新的访问令牌
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return s.tokens.RefreshAccessToken(refreshToken)
}

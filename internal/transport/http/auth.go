package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"scrapeapi/backend/internal/auth"
	jwtpkg "scrapeapi/backend/internal/auth/jwt"
	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/middleware"
)

// AuthHandler 认证相关的 HTTP 处理器
type AuthHandler struct {
	accounts *auth.Service
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(accounts *auth.Service) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type userResponse struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name,omitempty"`
	Role            string     `json:"role"`
	Tier            string     `json:"tier"`
	IsActive        bool       `json:"isActive"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
}

type loginResponse struct {
	User   userResponse      `json:"user"`
	Tokens *jwtpkg.TokenPair `json:"tokens"`
}

// Register 用户注册
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrInvalidPassword):
			BadRequest(c, err.Error())
		case errors.Is(err, auth.ErrEmailExists):
			Conflict(c, "email already registered")
		default:
			InternalError(c, "registration failed")
		}
		return
	}

	Created(c, toUserResponse(user))
}

// Login 用户登录，签发令牌对
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	user, tokens, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			Unauthorized(c, "invalid email or password")
		case errors.Is(err, auth.ErrUserInactive):
			Forbidden(c, "account is disabled")
		default:
			InternalError(c, "login failed")
		}
		return
	}

	Success(c, loginResponse{
		User:   toUserResponse(user),
		Tokens: tokens,
	})
}

// Refresh 使用刷新令牌换取新的访问令牌
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	accessToken, err := h.accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		Unauthorized(c, "invalid refresh token")
		return
	}

	Success(c, gin.H{"accessToken": accessToken})
}

// Me 返回当前已认证主体的信息
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}
	Success(c, toUserResponse(user))
}

// toUserResponse 转换用户实体为响应体，剥离敏感字段
func toUserResponse(user *domain.User) userResponse {
	return userResponse{
		ID:              user.ID,
		Email:           user.Email,
		Name:            user.Name,
		Role:            string(user.Role),
		Tier:            string(user.Tier),
		IsActive:        user.IsActive,
		IsEmailVerified: user.IsEmailVerified,
		CreatedAt:       user.CreatedAt,
		LastLoginAt:     user.LastLoginAt,
	}
}

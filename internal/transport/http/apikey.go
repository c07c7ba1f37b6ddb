package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/middleware"
	"scrapeapi/backend/internal/service"
)

// APIKeyHandler API密钥管理的 HTTP 处理器
type APIKeyHandler struct {
	keys *service.APIKeyService
}

// NewAPIKeyHandler 创建API密钥处理器
func NewAPIKeyHandler(keys *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

type createAPIKeyRequest struct {
	Name        string   `json:"name" binding:"required"`
	Permissions []string `json:"permissions"`
	ExpiresIn   string   `json:"expiresIn"` // 如 "720h"，省略表示永不过期
}

// apiKeyResponse 列表/详情响应，只回显前缀
type apiKeyResponse struct {
	ID          string     `json:"id"`
	KeyPrefix   string     `json:"keyPrefix"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
}

// createAPIKeyResponse 创建响应，完整密钥值只在此出现一次
type createAPIKeyResponse struct {
	apiKeyResponse
	Key string `json:"key"`
}

// CreateAPIKey 创建API密钥
func (h *APIKeyHandler) CreateAPIKey(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	var expiresIn *time.Duration
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			BadRequest(c, "invalid expiresIn duration")
			return
		}
		expiresIn = &d
	}

	for _, p := range req.Permissions {
		switch domain.APIKeyPermission(p) {
		case domain.PermissionRead, domain.PermissionWrite, domain.PermissionAdmin:
		default:
			BadRequest(c, "unknown permission: "+p)
			return
		}
	}

	apiKey, err := h.keys.CreateAPIKey(c.Request.Context(), service.CreateAPIKeyInput{
		UserID:      user.ID,
		Name:        req.Name,
		Permissions: req.Permissions,
		ExpiresIn:   expiresIn,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadKeyExpiry):
			BadRequest(c, err.Error())
		case errors.Is(err, service.ErrTooManyAPIKeys):
			Conflict(c, err.Error())
		default:
			InternalError(c, "failed to create api key")
		}
		return
	}

	Created(c, createAPIKeyResponse{
		apiKeyResponse: toAPIKeyResponse(apiKey),
		Key:            apiKey.Key,
	})
}

// ListAPIKeys 列出当前用户的API密钥
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}

	apiKeys, err := h.keys.ListAPIKeys(c.Request.Context(), user.ID)
	if err != nil {
		InternalError(c, "failed to list api keys")
		return
	}

	items := make([]apiKeyResponse, 0, len(apiKeys))
	for _, k := range apiKeys {
		items = append(items, toAPIKeyResponse(k))
	}

	Success(c, gin.H{
		"items": items,
		"count": len(items),
	})
}

// GetAPIKey 获取API密钥详情
func (h *APIKeyHandler) GetAPIKey(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}

	apiKey, err := h.keys.GetAPIKey(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotKeyOwner):
			Forbidden(c, "not the key owner")
		default:
			NotFound(c, "api key not found")
		}
		return
	}

	Success(c, toAPIKeyResponse(apiKey))
}

// RevokeAPIKey 撤销API密钥
func (h *APIKeyHandler) RevokeAPIKey(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}

	err := h.keys.RevokeAPIKey(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotKeyOwner):
			Forbidden(c, "not the key owner")
		case errors.Is(err, service.ErrAPIKeyNotFound):
			NotFound(c, "api key not found")
		default:
			InternalError(c, "failed to revoke api key")
		}
		return
	}

	NoContent(c)
}

func toAPIKeyResponse(k *domain.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:          k.ID,
		KeyPrefix:   k.KeyPrefix,
		Name:        k.Name,
		Permissions: k.Permissions,
		IsActive:    k.IsActive,
		CreatedAt:   k.CreatedAt,
		ExpiresAt:   k.ExpiresAt,
		LastUsedAt:  k.LastUsedAt,
	}
}

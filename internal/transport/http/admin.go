package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/middleware"
	"scrapeapi/backend/internal/service"
)

// AdminHandler 管理端点的 HTTP 处理器
type AdminHandler struct {
	admin *service.AdminService
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

type updateUserRequest struct {
	Role     *string `json:"role"`
	Tier     *string `json:"tier"`
	IsActive *bool   `json:"isActive"`
}

// ListUsers 列出所有用户
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.admin.ListUsers(c.Request.Context())
	if err != nil {
		InternalError(c, "failed to list users")
		return
	}

	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResponse(u))
	}

	Success(c, gin.H{
		"items": items,
		"count": len(items),
	})
}

// GetUser 获取用户详情
func (h *AdminHandler) GetUser(c *gin.Context) {
	user, err := h.admin.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFound(c, "user not found")
		return
	}
	Success(c, toUserResponse(user))
}

// UpdateUser 更新用户的角色/等级/启用状态
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	operator, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	input := service.UpdateUserInput{
		UserID:     c.Param("id"),
		IsActive:   req.IsActive,
		OperatorID: operator.ID,
	}

	if req.Role != nil {
		role := domain.UserRole(*req.Role)
		switch role {
		case domain.RoleUser, domain.RoleAdmin, domain.RoleSuperAdmin:
			input.Role = &role
		default:
			BadRequest(c, "unknown role: "+*req.Role)
			return
		}
	}

	if req.Tier != nil {
		tier := domain.UserTier(*req.Tier)
		switch tier {
		case domain.TierFree, domain.TierBasic, domain.TierPro, domain.TierEnterprise:
			input.Tier = &tier
		default:
			BadRequest(c, "unknown tier: "+*req.Tier)
			return
		}
	}

	user, err := h.admin.UpdateUser(c.Request.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAdminUserNotFound):
			NotFound(c, "user not found")
		case errors.Is(err, service.ErrCannotModifySelf),
			errors.Is(err, service.ErrCannotModifySuper),
			errors.Is(err, service.ErrInsufficientPermission):
			Forbidden(c, err.Error())
		default:
			InternalError(c, "failed to update user")
		}
		return
	}

	Success(c, toUserResponse(user))
}

// DeactivateUser 停用用户
func (h *AdminHandler) DeactivateUser(c *gin.Context) {
	operator, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}

	err := h.admin.DeactivateUser(c.Request.Context(), c.Param("id"), operator.ID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAdminUserNotFound):
			NotFound(c, "user not found")
		case errors.Is(err, service.ErrCannotModifySelf),
			errors.Is(err, service.ErrCannotModifySuper):
			Forbidden(c, err.Error())
		default:
			InternalError(c, "failed to deactivate user")
		}
		return
	}

	NoContent(c)
}

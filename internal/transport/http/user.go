package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"scrapeapi/backend/internal/middleware"
	"scrapeapi/backend/internal/service"
)

// UserHandler 用户自助资料的 HTTP 处理器
type UserHandler struct {
	users *service.UserService
}

// NewUserHandler 创建用户处理器
func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type updateProfileRequest struct {
	Name *string `json:"name"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// UpdateProfile 更新当前用户资料
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	updated, err := h.users.UpdateProfile(c.Request.Context(), service.UpdateProfileInput{
		UserID: user.ID,
		Name:   req.Name,
	})
	if err != nil {
		if errors.Is(err, service.ErrProfileUserNotFound) {
			NotFound(c, "user not found")
			return
		}
		InternalError(c, "failed to update profile")
		return
	}

	Success(c, toUserResponse(updated))
}

// ChangePassword 修改当前用户密码
func (h *UserHandler) ChangePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication failed")
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	err := h.users.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWrongPassword):
			Forbidden(c, "current password is incorrect")
		case errors.Is(err, service.ErrWeakPassword):
			BadRequest(c, err.Error())
		default:
			InternalError(c, "failed to change password")
		}
		return
	}

	NoContent(c)
}

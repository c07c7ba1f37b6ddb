package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/gateway"
)

// RequireRole 要求已解析主体的角色在允许列表中。
// 必须挂在 Gateway.Protect 之后；纯集合判定，无 I/O。
// 拒绝返回 403，与认证失败（401）严格区分。
func RequireRole(allowedRoles ...domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "fail",
				"message": "authentication failed",
			})
			return
		}

		if !gateway.Authorize(user, allowedRoles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"status":  "fail",
				"message": "insufficient permissions",
			})
			return
		}

		c.Next()
	}
}

// RequireAdmin 要求管理员角色（admin 或 superadmin）
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(domain.RoleAdmin, domain.RoleSuperAdmin)
}

// RequireSuperAdmin 要求超级管理员角色
func RequireSuperAdmin() gin.HandlerFunc {
	return RequireRole(domain.RoleSuperAdmin)
}

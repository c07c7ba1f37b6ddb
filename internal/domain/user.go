package domain

import "time"

// UserTier 订阅等级，决定用户的请求配额上限
type UserTier string

const (
	TierFree       UserTier = "FREE"
	TierBasic      UserTier = "BASIC"
	TierPro        UserTier = "PRO"
	TierEnterprise UserTier = "ENTERPRISE"
)

// UserRole 用户角色
type UserRole string

const (
	RoleUser       UserRole = "user"
	RoleAdmin      UserRole = "admin"
	RoleSuperAdmin UserRole = "superadmin" // 超级管理员
)

// User 表示已验证请求主体（principal）的业务实体。
// 网关层只持有带 TTL 的只读快照，数据归属于主体存储。
type User struct {
	ID               string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email            string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Name             string     `json:"name,omitempty" gorm:"type:varchar(100)"`
	PasswordHash     string     `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	Role             UserRole   `json:"role" gorm:"type:varchar(20);default:'user';index"`
	Tier             UserTier   `json:"tier" gorm:"type:varchar(20);default:'FREE';index"`
	IsActive         bool       `json:"isActive" gorm:"default:true"`
	IsEmailVerified  bool       `json:"isEmailVerified" gorm:"default:false"`
	FederatedSubject string     `json:"-" gorm:"type:varchar(255);index"` // 联合身份提供方的 subject id
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
	APIKeys          []APIKey   `json:"apiKeys,omitempty" gorm:"foreignKey:UserID"`
}

// IsAdmin 判断用户是否为管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleSuperAdmin
}

// IsSuperAdmin 判断用户是否为超级管理员
func (u *User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// HasRole 判断用户角色是否在允许列表中。
// 空列表表示仅要求已认证，不限制角色。
func (u *User) HasRole(allowed ...UserRole) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, role := range allowed {
		if u.Role == role {
			return true
		}
	}
	return false
}

package domain

import "time"

// APIKeyPermission API密钥权限
type APIKeyPermission string

const (
	PermissionRead  APIKeyPermission = "read"
	PermissionWrite APIKeyPermission = "write"
	PermissionAdmin APIKeyPermission = "admin"
)

// APIKey API密钥实体。密钥值在所有用户范围内唯一，
// 由所属用户创建，管理员或所有者可以撤销，不会在用户间共享。
type APIKey struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      string     `json:"userId" gorm:"type:varchar(36);index;not null"`
	Key         string     `json:"key" gorm:"column:key_value;type:varchar(255);uniqueIndex;not null"` // API密钥值
	KeyPrefix   string     `json:"keyPrefix" gorm:"type:varchar(20);not null"`        // 密钥前缀（用于展示）
	Name        string     `json:"name" gorm:"type:varchar(100)"`                     // 密钥名称/描述
	Permissions []string   `json:"permissions" gorm:"serializer:json"`                // 权限集合（read/write/admin 子集）
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`  // 过期时间（可选）
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"` // 最后使用时间
}

// IsExpired 判断密钥是否已过期
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// HasPermission 判断密钥是否具有指定权限
func (k *APIKey) HasPermission(perm APIKeyPermission) bool {
	for _, p := range k.Permissions {
		if APIKeyPermission(p) == perm {
			return true
		}
	}
	return false
}

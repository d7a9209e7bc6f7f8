package domain

import "time"

// ProfileRole 用户角色
type ProfileRole string

const (
	ProfileRoleOwner ProfileRole = "owner" // 站点所有者，唯一可以授予或收回 owner 的角色
	ProfileRoleAdmin ProfileRole = "admin"
	ProfileRoleUser  ProfileRole = "user"
)

// Valid 是否为已知角色
func (r ProfileRole) Valid() bool {
	switch r {
	case ProfileRoleOwner, ProfileRoleAdmin, ProfileRoleUser:
		return true
	}
	return false
}

// Profile 用户资料，首次认证时创建
type Profile struct {
	ID          string      `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Email       string      `json:"email" gorm:"type:varchar(320);index"`
	DisplayName string      `json:"displayName" gorm:"type:varchar(255)"`
	Role        ProfileRole `json:"role" gorm:"type:varchar(20);default:'user';index"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// TableName 对应 profiles 表
func (Profile) TableName() string { return "profiles" }

// IsAdmin owner 与 admin 都拥有管理权限
func (p *Profile) IsAdmin() bool {
	return p.Role == ProfileRoleAdmin || p.Role == ProfileRoleOwner
}

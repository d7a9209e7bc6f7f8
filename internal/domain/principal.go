package domain

// Principal 已认证的调用方
type Principal struct {
	UserID string
	Email  string
	Admin  bool
}

// Role 值，来自认证服务签发的 app_metadata.role
const (
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

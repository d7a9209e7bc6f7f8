package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"flowmail/backend/internal/domain"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

// AppMetadata 认证服务写入的应用元数据
type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// Claims 认证服务签发的访问令牌声明，用户 ID 在 sub 中
type Claims struct {
	Email       string      `json:"email"`
	AppMetadata AppMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

// Manager 校验认证服务签发的 HS256 令牌
type Manager struct {
	secret      []byte
	issuer      string
	adminEmails map[string]struct{}
}

// NewManager 创建 JWT 管理器。issuer 为空时不校验 iss。
func NewManager(secret, issuer string, adminEmails []string) *Manager {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		admins[strings.ToLower(e)] = struct{}{}
	}
	return &Manager{
		secret:      []byte(secret),
		issuer:      issuer,
		adminEmails: admins,
	}
}

// GenerateToken 签发访问令牌，用于本地开发和测试
func (m *Manager) GenerateToken(userID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:       email,
		AppMetadata: AppMetadata{Role: role},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken 验证令牌并返回声明
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Principal 验证令牌并解析出调用方身份
func (m *Manager) Principal(tokenString string) (*domain.Principal, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &domain.Principal{
		UserID: claims.Subject,
		Email:  strings.ToLower(claims.Email),
		Admin:  m.isAdmin(claims),
	}, nil
}

// isAdmin 角色为 admin/owner，或邮箱在管理员名单中
func (m *Manager) isAdmin(claims *Claims) bool {
	switch strings.ToLower(claims.AppMetadata.Role) {
	case domain.RoleAdmin, domain.RoleOwner:
		return true
	}
	_, ok := m.adminEmails[strings.ToLower(claims.Email)]
	return ok
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flowmail/backend/internal/auth/jwt"
	"flowmail/backend/internal/domain"
)

const principalKey = "principal"

// PrincipalResolver 用本地存储补全令牌中的身份，例如库中记录的角色
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, p *domain.Principal) (*domain.Principal, error)
}

// JWTAuth 校验外部认证服务签发的访问令牌
type JWTAuth struct {
	jwtManager *jwt.Manager
	resolver   PrincipalResolver
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(jwtManager *jwt.Manager, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{jwtManager: jwtManager, log: log}
}

// WithResolver 设置身份补全器，为 nil 时直接使用令牌中的身份
func (ja *JWTAuth) WithResolver(r PrincipalResolver) *JWTAuth {
	ja.resolver = r
	return ja
}

// RequireAuth 要求JWT认证，把调用方身份放入上下文
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		principal, err := ja.jwtManager.Principal(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "token expired"
			}
			ja.log.Warn("rejected access token", zap.String("ip", c.ClientIP()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		if ja.resolver != nil {
			principal, err = ja.resolver.ResolvePrincipal(c.Request.Context(), principal)
			if err != nil {
				ja.log.Error("failed to resolve principal", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequireAdmin 要求管理员身份，必须放在 RequireAuth 之后
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !p.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// PrincipalFrom 读取 RequireAuth 放入的调用方身份，未认证时返回 nil
func PrincipalFrom(c *gin.Context) *domain.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*domain.Principal)
	return p
}

// SetPrincipal 把调用方身份放入上下文
func SetPrincipal(c *gin.Context, p *domain.Principal) {
	c.Set(principalKey, p)
}

func extractToken(c *gin.Context) string {
	if scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}
	return ""
}

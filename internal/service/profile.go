package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage"
)

// ProfileService 管理用户资料与角色
type ProfileService struct {
	store storage.Store
	log   *zap.Logger
}

// NewProfileService 创建用户资料服务
func NewProfileService(store storage.Store, log *zap.Logger) *ProfileService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProfileService{store: store, log: log}
}

// ResolvePrincipal 首次见到的用户创建资料，并用库中的角色补全管理员身份。
// 令牌声明为管理员的用户建档时即为 admin。
func (s *ProfileService) ResolvePrincipal(ctx context.Context, p *domain.Principal) (*domain.Principal, error) {
	role := domain.ProfileRoleUser
	if p.Admin {
		role = domain.ProfileRoleAdmin
	}
	profile := &domain.Profile{
		ID:          p.UserID,
		Email:       p.Email,
		DisplayName: displayName(p.Email),
		Role:        role,
	}
	if err := s.store.EnsureProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}

	resolved := *p
	resolved.Admin = p.Admin || profile.IsAdmin()
	return &resolved, nil
}

// ListUsers 列出全部用户资料，最新注册的在前
func (s *ProfileService) ListUsers(ctx context.Context) ([]*domain.Profile, error) {
	return s.store.ListProfiles(ctx)
}

// UpdateRole 修改用户角色。不能修改自己；涉及 owner 的变更只有 owner 可以操作。
func (s *ProfileService) UpdateRole(ctx context.Context, operator *domain.Principal, userID string, role domain.ProfileRole) (*domain.Profile, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if operator == nil || !operator.Admin {
		return nil, ErrForbidden
	}
	if operator.UserID == userID {
		return nil, fmt.Errorf("%w: cannot change own role", ErrForbidden)
	}

	target, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if role == domain.ProfileRoleOwner || target.Role == domain.ProfileRoleOwner {
		self, err := s.store.GetProfile(ctx, operator.UserID)
		if err != nil && !errors.Is(err, storage.ErrProfileNotFound) {
			return nil, fmt.Errorf("get operator profile: %w", err)
		}
		if self == nil || self.Role != domain.ProfileRoleOwner {
			return nil, fmt.Errorf("%w: only owners can change owner roles", ErrForbidden)
		}
	}

	if err := s.store.UpdateProfileRole(ctx, userID, role); err != nil {
		return nil, mapNotFound(err)
	}
	s.log.Info("user role updated",
		zap.String("operatorID", operator.UserID),
		zap.String("userID", userID),
		zap.String("from", string(target.Role)),
		zap.String("to", string(role)))
	return s.store.GetProfile(ctx, userID)
}

// PrincipalSource 把访问令牌解析为调用方身份
type PrincipalSource interface {
	Principal(token string) (*domain.Principal, error)
}

// Tokens 包装令牌解析，结果经过 ResolvePrincipal 补全角色。
// websocket 握手没有请求上下文，使用独立的超时。
func (s *ProfileService) Tokens(src PrincipalSource) PrincipalSource {
	return profileTokens{src: src, profiles: s}
}

type profileTokens struct {
	src      PrincipalSource
	profiles *ProfileService
}

func (t profileTokens) Principal(token string) (*domain.Principal, error) {
	p, err := t.src.Principal(token)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.profiles.ResolvePrincipal(ctx, p)
}

func displayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

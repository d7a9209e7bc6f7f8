package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage"
)

// AccessService 管理用户的域名授权和全局设置，并计算调用方的可见范围。
type AccessService struct {
	store storage.Store
	log   *zap.Logger
}

// NewAccessService 创建授权服务
func NewAccessService(store storage.Store, log *zap.Logger) *AccessService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccessService{store: store, log: log}
}

// DomainScope 返回调用方可见的域名 ID。管理员返回 nil，表示不限制。
func (s *AccessService) DomainScope(ctx context.Context, p *domain.Principal) ([]string, error) {
	if p == nil {
		return []string{}, nil
	}
	if p.Admin {
		return nil, nil
	}
	grants, err := s.store.ListAccess(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("list domain access: %w", err)
	}
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.DomainID)
	}
	return ids, nil
}

// CanAccessDomain 调用方是否可以访问该域名
func (s *AccessService) CanAccessDomain(ctx context.Context, p *domain.Principal, domainID string) (bool, error) {
	if p == nil {
		return false, nil
	}
	if p.Admin {
		return true, nil
	}
	_, err := s.store.GetAccess(ctx, p.UserID, domainID)
	if errors.Is(err, storage.ErrAccessNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get domain access: %w", err)
	}
	return true, nil
}

// ListGrants 列出授权，userID 为空时列出全部
func (s *AccessService) ListGrants(ctx context.Context, userID string) ([]*domain.DomainAccess, error) {
	return s.store.ListAccess(ctx, userID)
}

// GrantInput 授权请求
type GrantInput struct {
	UserID       string `json:"userId"`
	DomainID     string `json:"domainId"`
	MailboxLimit int    `json:"mailboxLimit"`
}

// Grant 新增或更新授权。mailboxLimit 小于等于 0 时使用默认值。
func (s *AccessService) Grant(ctx context.Context, in GrantInput) (*domain.DomainAccess, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" || in.DomainID == "" {
		return nil, fmt.Errorf("%w: userId and domainId are required", ErrInvalidInput)
	}
	if _, err := s.store.GetDomain(ctx, in.DomainID); err != nil {
		return nil, mapNotFound(err)
	}

	limit := in.MailboxLimit
	if limit <= 0 {
		limit = domain.DefaultMailboxLimit
	}
	grant := &domain.DomainAccess{
		ID:           uuid.NewString(),
		UserID:       userID,
		DomainID:     in.DomainID,
		MailboxLimit: limit,
	}
	if err := s.store.UpsertAccess(ctx, grant); err != nil {
		return nil, fmt.Errorf("upsert domain access: %w", err)
	}

	s.log.Info("domain access granted",
		zap.String("userID", userID),
		zap.String("domainID", in.DomainID),
		zap.Int("mailboxLimit", limit))
	return s.store.GetAccess(ctx, userID, in.DomainID)
}

// Revoke 撤销授权
func (s *AccessService) Revoke(ctx context.Context, userID, domainID string) error {
	if err := s.store.DeleteAccess(ctx, userID, domainID); err != nil {
		return mapNotFound(err)
	}
	s.log.Info("domain access revoked", zap.String("userID", userID), zap.String("domainID", domainID))
	return nil
}

// Settings 读取全局设置
func (s *AccessService) Settings(ctx context.Context) (*domain.AppSettings, error) {
	return s.store.GetSettings(ctx)
}

// UpdateSettings 更新全局设置
func (s *AccessService) UpdateSettings(ctx context.Context, supportEmail string) (*domain.AppSettings, error) {
	supportEmail = strings.TrimSpace(supportEmail)
	if supportEmail != "" {
		if _, _, _, ok := ParseRecipient(supportEmail); !ok {
			return nil, fmt.Errorf("%w: supportEmail", ErrInvalidInput)
		}
	}
	settings := &domain.AppSettings{ID: domain.AppSettingsID, SupportEmail: supportEmail}
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return s.store.GetSettings(ctx)
}

// mapNotFound 把存储层的各种不存在错误统一为 ErrNotFound，重复统一为 ErrDuplicate
func mapNotFound(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrDomainNotFound),
		errors.Is(err, storage.ErrAddressNotFound),
		errors.Is(err, storage.ErrMessageNotFound),
		errors.Is(err, storage.ErrAttachmentNotFound),
		errors.Is(err, storage.ErrAccessNotFound),
		errors.Is(err, storage.ErrProfileNotFound),
		errors.Is(err, storage.ErrObjectNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, storage.ErrAlreadyExists):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

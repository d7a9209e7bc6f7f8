package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/logger"
	"flowmail/backend/internal/storage"
)

// MailboxService 管理收信域名和白名单地址。
type MailboxService struct {
	store  storage.Store
	access *AccessService
	log    *zap.Logger
}

// NewMailboxService 创建域名与地址服务
func NewMailboxService(store storage.Store, access *AccessService, log *zap.Logger) *MailboxService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailboxService{store: store, access: access, log: log}
}

// ListDomains 管理员看到全部域名，普通用户只看到已授权的域名
func (s *MailboxService) ListDomains(ctx context.Context, p *domain.Principal) ([]*domain.Domain, error) {
	scope, err := s.access.DomainScope(ctx, p)
	if err != nil {
		return nil, err
	}
	if scope != nil && len(scope) == 0 {
		return []*domain.Domain{}, nil
	}
	return s.store.ListDomains(ctx, scope)
}

// CreateDomain 登记新域名（仅管理员）
func (s *MailboxService) CreateDomain(ctx context.Context, p *domain.Principal, name string) (*domain.Domain, error) {
	if !isAdmin(p) {
		return nil, ErrForbidden
	}
	name = domain.NormalizeDomainName(name)
	if err := domain.ValidateDomainName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	d := &domain.Domain{
		ID:            uuid.NewString(),
		Name:          name,
		WebhookSecret: uuid.NewString(),
	}
	if err := s.store.CreateDomain(ctx, d); err != nil {
		return nil, mapNotFound(err)
	}
	s.log.Info("domain created", zap.String("domainID", d.ID), zap.String("domain", name))
	return d, nil
}

// VerifyDomain 标记域名已验证（仅管理员）
func (s *MailboxService) VerifyDomain(ctx context.Context, p *domain.Principal, id string) (*domain.Domain, error) {
	if !isAdmin(p) {
		return nil, ErrForbidden
	}
	if err := s.store.MarkDomainVerified(ctx, id); err != nil {
		return nil, mapNotFound(err)
	}
	return s.store.GetDomain(ctx, id)
}

// DeleteDomain 删除域名及其地址（仅管理员）
func (s *MailboxService) DeleteDomain(ctx context.Context, p *domain.Principal, id string) error {
	if !isAdmin(p) {
		return ErrForbidden
	}
	if err := s.store.DeleteDomain(ctx, id); err != nil {
		return mapNotFound(err)
	}
	s.log.Info("domain deleted", zap.String("domainID", id))
	return nil
}

// ListAddresses 列出域名下的地址。onlyMine 时只返回调用方创建的地址。
func (s *MailboxService) ListAddresses(ctx context.Context, p *domain.Principal, domainID string, onlyMine bool) ([]*domain.Address, error) {
	d, err := s.visibleDomain(ctx, p, domainID)
	if err != nil {
		return nil, err
	}
	createdBy := ""
	if onlyMine {
		createdBy = p.UserID
	}
	addrs, err := s.store.ListAddresses(ctx, domainID, createdBy)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		a.Email = domain.FullAddress(a.LocalPart, d.Name)
	}
	return addrs, nil
}

// CreateAddressInput 创建地址请求
type CreateAddressInput struct {
	DomainID    string `json:"domainId"`
	LocalPart   string `json:"localPart"`
	DisplayName string `json:"displayName,omitempty"`
}

// CreateAddress 把地址加入白名单，初始状态为 pending。
// 普通用户受授权中 mailbox_limit 的限制，按其在该域名下创建的地址数计算。
func (s *MailboxService) CreateAddress(ctx context.Context, p *domain.Principal, in CreateAddressInput) (*domain.Address, error) {
	d, err := s.visibleDomain(ctx, p, in.DomainID)
	if err != nil {
		return nil, err
	}

	local := domain.NormalizeLocalPart(in.LocalPart)
	if err := domain.ValidateLocalPart(local); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if !p.Admin {
		grant, err := s.store.GetAccess(ctx, p.UserID, d.ID)
		if err != nil {
			return nil, mapNotFound(err)
		}
		count, err := s.store.CountAddressesByCreator(ctx, d.ID, p.UserID)
		if err != nil {
			return nil, err
		}
		if count >= grant.MailboxLimit {
			return nil, ErrMailboxLimitReached
		}
	}

	a := &domain.Address{
		ID:          uuid.NewString(),
		DomainID:    d.ID,
		LocalPart:   local,
		DisplayName: in.DisplayName,
		Status:      domain.AddressStatusPending,
		CreatedBy:   p.UserID,
	}
	if err := s.store.CreateAddress(ctx, a); err != nil {
		return nil, mapNotFound(err)
	}
	a.Email = domain.FullAddress(local, d.Name)

	s.log.Info("address created", logger.Email("address", a.Email), zap.String("createdBy", p.UserID))
	return a, nil
}

// DeleteAddress 删除地址。普通用户只能删除自己创建的地址。
func (s *MailboxService) DeleteAddress(ctx context.Context, p *domain.Principal, id string) error {
	a, err := s.store.GetAddress(ctx, id)
	if err != nil {
		return mapNotFound(err)
	}
	if _, err := s.visibleDomain(ctx, p, a.DomainID); err != nil {
		return err
	}
	if !p.Admin && a.CreatedBy != p.UserID {
		return ErrForbidden
	}
	if err := s.store.DeleteAddress(ctx, id); err != nil {
		return mapNotFound(err)
	}
	return nil
}

// visibleDomain 读取调用方有权访问的域名，无权访问时按不存在处理
func (s *MailboxService) visibleDomain(ctx context.Context, p *domain.Principal, domainID string) (*domain.Domain, error) {
	if p == nil {
		return nil, ErrForbidden
	}
	ok, err := s.access.CanAccessDomain(ctx, p, domainID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	d, err := s.store.GetDomain(ctx, domainID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return d, nil
}

func isAdmin(p *domain.Principal) bool {
	return p != nil && p.Admin
}


// CanViewAddress 调用方能否看到该地址的邮件，用于实时推送的订阅校验
func (s *MailboxService) CanViewAddress(ctx context.Context, p *domain.Principal, addressID string) (bool, error) {
	if p == nil {
		return false, nil
	}
	a, err := s.store.GetAddress(ctx, addressID)
	if err != nil {
		if errors.Is(err, storage.ErrAddressNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.access.CanAccessDomain(ctx, p, a.DomainID)
}

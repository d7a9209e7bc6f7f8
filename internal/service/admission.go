package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage"
)

// DomainLookup 按规范化域名查找已登记的域名
type DomainLookup interface {
	GetDomainByName(ctx context.Context, name string) (*domain.Domain, error)
}

// AddressLookup 按 (域名 ID, 本地部分) 查找白名单地址
type AddressLookup interface {
	FindAddress(ctx context.Context, domainID, localPart string) (*domain.Address, error)
}

// Decision 入站准入结果。Accepted 为 false 时 Reason 给出拒收原因。
type Decision struct {
	Accepted    bool
	Reason      domain.RejectReason
	DisplayName string
	LocalPart   string
	DomainName  string
	Domain      *domain.Domain
	Address     *domain.Address
}

// Recipient 规范化后的收件地址
func (d Decision) Recipient() string {
	return domain.FullAddress(d.LocalPart, d.DomainName)
}

// ParseRecipient 解析 "Name <a@b>"、"\"Name\" <a@b>" 或 "a@b"，本地部分和域名均转为小写。
// 缺少 @、本地部分或域名为空、域名中还有 @ 时 ok 为 false。
func ParseRecipient(to string) (displayName, localPart, domainName string, ok bool) {
	addr := strings.TrimSpace(to)
	if open := strings.LastIndex(addr, "<"); open >= 0 && strings.HasSuffix(addr, ">") {
		displayName = strings.Trim(strings.TrimSpace(addr[:open]), `"`)
		addr = strings.TrimSpace(addr[open+1 : len(addr)-1])
	}

	local, dom, found := strings.Cut(addr, "@")
	if !found || local == "" || dom == "" || strings.Contains(dom, "@") {
		return displayName, "", "", false
	}
	return displayName, domain.NormalizeLocalPart(local), domain.NormalizeDomainName(dom), true
}

// Admit 判断一封发往 to 的邮件是否可以接收。
// 策略拒收通过 Decision 返回；查询失败作为 error 返回，不会被当成拒收。
func Admit(ctx context.Context, domains DomainLookup, addresses AddressLookup, to string) (Decision, error) {
	display, local, dom, ok := ParseRecipient(to)
	d := Decision{DisplayName: display, LocalPart: local, DomainName: dom}
	if !ok {
		d.Reason = domain.RejectInvalidRecipient
		return d, nil
	}

	registered, err := domains.GetDomainByName(ctx, dom)
	switch {
	case errors.Is(err, storage.ErrDomainNotFound):
		d.Reason = domain.RejectDomainUnknown
		return d, nil
	case err != nil:
		return d, fmt.Errorf("lookup domain: %w", err)
	}
	d.Domain = registered

	addr, err := addresses.FindAddress(ctx, registered.ID, local)
	switch {
	case errors.Is(err, storage.ErrAddressNotFound):
		d.Reason = domain.RejectAddressNotListed
		return d, nil
	case err != nil:
		return d, fmt.Errorf("lookup address: %w", err)
	}
	addr.Email = d.Recipient()
	d.Address = addr
	d.Accepted = true
	return d, nil
}

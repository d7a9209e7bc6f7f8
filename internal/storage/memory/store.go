package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage"
)

// Store 使用内存保存域名、地址与邮件数据，用于开发环境和测试。
type Store struct {
	mu          sync.RWMutex
	domains     map[string]*domain.Domain       // domainID -> domain
	byName      map[string]string               // domain name -> domainID
	addresses   map[string]*domain.Address      // addressID -> address
	byLocal     map[string]string               // domainID + "/" + localPart -> addressID
	messages    map[string]*domain.Message      // messageID -> message
	attachments map[string]*domain.Attachment   // attachmentID -> attachment
	access      map[string]*domain.DomainAccess // userID + "/" + domainID -> access
	settings    *domain.AppSettings
	profiles    map[string]*domain.Profile // userID -> profile

	// 速率限制相关
	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time // 下次清理过期速率限制的时间
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

var _ storage.Store = (*Store)(nil)
var _ storage.RateLimitRepository = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		domains:           make(map[string]*domain.Domain),
		byName:            make(map[string]string),
		addresses:         make(map[string]*domain.Address),
		byLocal:           make(map[string]string),
		messages:          make(map[string]*domain.Message),
		attachments:       make(map[string]*domain.Attachment),
		access:            make(map[string]*domain.DomainAccess),
		profiles:          make(map[string]*domain.Profile),
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(5 * time.Minute),
	}
}

func localKey(domainID, localPart string) string {
	return domainID + "/" + strings.ToLower(localPart)
}

func accessKey(userID, domainID string) string {
	return userID + "/" + domainID
}

// Ping 内存存储始终可用
func (s *Store) Ping(context.Context) error { return nil }

// Close 无需释放资源
func (s *Store) Close() error { return nil }

// ========== 域名 ==========

// CreateDomain 保存新域名，域名重复时返回 ErrAlreadyExists。
func (s *Store) CreateDomain(_ context.Context, d *domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[d.Name]; exists {
		return storage.ErrAlreadyExists
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	cp := *d
	s.domains[d.ID] = &cp
	s.byName[d.Name] = d.ID
	return nil
}

// GetDomain 根据 ID 获取域名。
func (s *Store) GetDomain(_ context.Context, id string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[id]
	if !ok {
		return nil, storage.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

// GetDomainByName 按域名精确查找。
func (s *Store) GetDomainByName(_ context.Context, name string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, storage.ErrDomainNotFound
	}
	cp := *s.domains[id]
	return &cp, nil
}

// ListDomains 按域名排序返回。
func (s *Store) ListDomains(_ context.Context, ids []string) ([]*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := toSet(ids)
	out := make([]*domain.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		if allowed != nil && !allowed[d.ID] {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MarkDomainVerified 标记域名已验证。
func (s *Store) MarkDomainVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok {
		return storage.ErrDomainNotFound
	}
	d.IsVerified = true
	d.UpdatedAt = time.Now()
	return nil
}

// DeleteDomain 删除域名及其地址、授权。
func (s *Store) DeleteDomain(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok {
		return storage.ErrDomainNotFound
	}
	for addrID, a := range s.addresses {
		if a.DomainID == id {
			delete(s.byLocal, localKey(a.DomainID, a.LocalPart))
			delete(s.addresses, addrID)
		}
	}
	for key, a := range s.access {
		if a.DomainID == id {
			delete(s.access, key)
		}
	}
	delete(s.byName, d.Name)
	delete(s.domains, id)
	return nil
}

// ========== 地址 ==========

// CreateAddress 保存新地址，同一域名下本地部分重复时返回 ErrAlreadyExists。
func (s *Store) CreateAddress(_ context.Context, a *domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[a.DomainID]; !ok {
		return storage.ErrDomainNotFound
	}
	key := localKey(a.DomainID, a.LocalPart)
	if _, exists := s.byLocal[key]; exists {
		return storage.ErrAlreadyExists
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	s.addresses[a.ID] = &cp
	s.byLocal[key] = a.ID
	return nil
}

// GetAddress 根据 ID 获取地址。
func (s *Store) GetAddress(_ context.Context, id string) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.addresses[id]
	if !ok {
		return nil, storage.ErrAddressNotFound
	}
	cp := *a
	return &cp, nil
}

// FindAddress 按域名 ID 与本地部分（不区分大小写）查找地址。
func (s *Store) FindAddress(_ context.Context, domainID, localPart string) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLocal[localKey(domainID, localPart)]
	if !ok {
		return nil, storage.ErrAddressNotFound
	}
	cp := *s.addresses[id]
	return &cp, nil
}

// ListAddresses 返回域名下的地址，按创建时间升序。
func (s *Store) ListAddresses(_ context.Context, domainID, createdBy string) ([]*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Address, 0)
	for _, a := range s.addresses {
		if a.DomainID != domainID {
			continue
		}
		if createdBy != "" && a.CreatedBy != createdBy {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CountAddressesByCreator 统计用户在某域名下创建的地址数。
func (s *Store) CountAddressesByCreator(_ context.Context, domainID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, a := range s.addresses {
		if a.DomainID == domainID && a.CreatedBy == userID {
			count++
		}
	}
	return count, nil
}

// RecordDelivery 累加收信计数，pending 地址在此切换为 active。
func (s *Store) RecordDelivery(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addresses[id]
	if !ok {
		return false, storage.ErrAddressNotFound
	}
	activated := false
	if a.Status == domain.AddressStatusPending {
		a.Status = domain.AddressStatusActive
		first := at
		a.FirstReceivedAt = &first
		activated = true
	}
	last := at
	a.LastMailAt = &last
	a.MailCount++
	return activated, nil
}

// DeleteAddress 删除地址，已收到的邮件保留。
func (s *Store) DeleteAddress(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addresses[id]
	if !ok {
		return storage.ErrAddressNotFound
	}
	delete(s.byLocal, localKey(a.DomainID, a.LocalPart))
	delete(s.addresses, id)
	return nil
}

// ========== 邮件 ==========

// CreateMessage 保存邮件。
func (s *Store) CreateMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[m.ID]; exists {
		return storage.ErrAlreadyExists
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

// GetMessage 根据 ID 获取邮件。
func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

// FindByMessageID 返回 Message-ID 匹配的最早一封邮件。
func (s *Store) FindByMessageID(_ context.Context, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Message
	for _, m := range s.messages {
		if m.MessageID != messageID {
			continue
		}
		if found == nil || m.ReceivedAt.Before(found.ReceivedAt) {
			found = m
		}
	}
	if found == nil {
		return nil, storage.ErrMessageNotFound
	}
	return cloneMessage(found), nil
}

// ClaimThreadID 在写锁内完成比较并设置。
func (s *Store) ClaimThreadID(_ context.Context, id, threadID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return "", storage.ErrMessageNotFound
	}
	if m.ThreadID == "" {
		m.ThreadID = threadID
		m.UpdatedAt = time.Now()
	}
	return m.ThreadID, nil
}

// ListMessages 按文件夹视图过滤，接收时间倒序。
func (s *Store) ListMessages(_ context.Context, filter domain.MessageFilter) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	folder := filter.Folder
	if folder == "" {
		folder = domain.FolderInbox
	}
	allowed := s.addressScopeLocked(filter.DomainIDs)

	out := make([]*domain.Message, 0)
	for _, m := range s.messages {
		if !m.InFolder(folder) {
			continue
		}
		if allowed != nil && !allowed[m.AddressID] {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

// ListThread 返回会话内未删除邮件，接收时间升序。
func (s *Store) ListThread(_ context.Context, threadID string, domainIDs []string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := s.addressScopeLocked(domainIDs)
	out := make([]*domain.Message, 0)
	for _, m := range s.messages {
		if m.ThreadID != threadID || m.IsTrash {
			continue
		}
		if allowed != nil && !allowed[m.AddressID] {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// SetMessageFlag 设置邮件标记。
func (s *Store) SetMessageFlag(_ context.Context, id string, flag domain.MessageFlag, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	switch flag {
	case domain.FlagRead:
		m.IsRead = value
	case domain.FlagStarred:
		m.IsStarred = value
	case domain.FlagArchived:
		m.IsArchived = value
	case domain.FlagTrash:
		m.IsTrash = value
	}
	m.UpdatedAt = time.Now()
	return nil
}

// DeleteMessage 删除邮件及附件记录。
func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return storage.ErrMessageNotFound
	}
	for attID, att := range s.attachments {
		if att.MessageID == id {
			delete(s.attachments, attID)
		}
	}
	delete(s.messages, id)
	return nil
}

// ========== 附件 ==========

// CreateAttachment 保存附件元数据。
func (s *Store) CreateAttachment(_ context.Context, a *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[a.MessageID]; !ok {
		return storage.ErrMessageNotFound
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	s.attachments[a.ID] = &cp
	return nil
}

// GetAttachment 根据 ID 获取附件。
func (s *Store) GetAttachment(_ context.Context, id string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attachments[id]
	if !ok {
		return nil, storage.ErrAttachmentNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAttachments 返回邮件的附件列表。
func (s *Store) ListAttachments(_ context.Context, messageID string) ([]*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Attachment, 0)
	for _, a := range s.attachments {
		if a.MessageID == messageID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ========== 授权与设置 ==========

// UpsertAccess 新增或更新授权。
func (s *Store) UpsertAccess(_ context.Context, a *domain.DomainAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[a.DomainID]; !ok {
		return storage.ErrDomainNotFound
	}
	key := accessKey(a.UserID, a.DomainID)
	if existing, ok := s.access[key]; ok {
		existing.MailboxLimit = a.MailboxLimit
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	s.access[key] = &cp
	return nil
}

// GetAccess 获取用户对域名的授权。
func (s *Store) GetAccess(_ context.Context, userID, domainID string) (*domain.DomainAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.access[accessKey(userID, domainID)]
	if !ok {
		return nil, storage.ErrAccessNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAccess 列出授权。
func (s *Store) ListAccess(_ context.Context, userID string) ([]*domain.DomainAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.DomainAccess, 0)
	for _, a := range s.access {
		if userID != "" && a.UserID != userID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteAccess 撤销授权。
func (s *Store) DeleteAccess(_ context.Context, userID, domainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accessKey(userID, domainID)
	if _, ok := s.access[key]; !ok {
		return storage.ErrAccessNotFound
	}
	delete(s.access, key)
	return nil
}

// ========== 用户资料 ==========

// EnsureProfile 资料不存在时插入，p 回填为已保存的记录。
func (s *Store) EnsureProfile(_ context.Context, p *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.profiles[p.ID]; ok {
		*p = *existing
		return nil
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

// GetProfile 获取用户资料。
func (s *Store) GetProfile(_ context.Context, id string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, storage.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// ListProfiles 按创建时间倒序列出用户资料。
func (s *Store) ListProfiles(context.Context) ([]*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateProfileRole 修改角色。
func (s *Store) UpdateProfileRole(_ context.Context, id string, role domain.ProfileRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return storage.ErrProfileNotFound
	}
	p.Role = role
	p.UpdatedAt = time.Now()
	return nil
}

// GetSettings 返回全局设置，未保存过时返回空设置。
func (s *Store) GetSettings(context.Context) (*domain.AppSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return &domain.AppSettings{ID: domain.AppSettingsID}, nil
	}
	cp := *s.settings
	return &cp, nil
}

// SaveSettings 保存全局设置。
func (s *Store) SaveSettings(_ context.Context, settings *domain.AppSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.ID = domain.AppSettingsID
	settings.UpdatedAt = time.Now()
	cp := *settings
	s.settings = &cp
	return nil
}

// ========== 速率限制 ==========

// IncrementRateLimit 固定窗口计数，窗口过期后重新计数。
func (s *Store) IncrementRateLimit(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if now.After(s.rateLimitsCleanup) {
		for k, v := range s.rateLimits {
			if now.After(v.ExpiresAt) {
				delete(s.rateLimits, k)
			}
		}
		s.rateLimitsCleanup = now.Add(5 * time.Minute)
	}

	entry, exists := s.rateLimits[key]
	if !exists || now.After(entry.ExpiresAt) {
		s.rateLimits[key] = &rateLimitEntry{Count: 1, ExpiresAt: now.Add(window)}
		return 1, nil
	}

	entry.Count++
	return entry.Count, nil
}

// addressScopeLocked 把域名范围换算为地址 ID 集合，domainIDs 为 nil 时返回 nil（不限制）。
func (s *Store) addressScopeLocked(domainIDs []string) map[string]bool {
	if domainIDs == nil {
		return nil
	}
	domains := toSet(domainIDs)
	scope := make(map[string]bool)
	for id, a := range s.addresses {
		if domains[a.DomainID] {
			scope[id] = true
		}
	}
	return scope
}

func toSet(ids []string) map[string]bool {
	if ids == nil {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func paginate(items []*domain.Message, offset, limit int) []*domain.Message {
	if offset > 0 {
		if offset >= len(items) {
			return []*domain.Message{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	if m.References != nil {
		cp.References = append([]string(nil), m.References...)
	}
	if m.Headers != nil {
		cp.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			cp.Headers[k] = v
		}
	}
	cp.Attachments = nil
	return &cp
}

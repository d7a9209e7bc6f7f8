package storage

import (
	"context"
	"errors"
	"time"

	"flowmail/backend/internal/domain"
)

var (
	// ErrDomainNotFound 域名未登记
	ErrDomainNotFound = errors.New("domain not found")
	// ErrAddressNotFound 地址不在白名单中
	ErrAddressNotFound = errors.New("address not found")
	// ErrMessageNotFound 邮件不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound 附件不存在
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrAccessNotFound 用户没有该域名的授权
	ErrAccessNotFound = errors.New("domain access not found")
	// ErrProfileNotFound 用户资料不存在
	ErrProfileNotFound = errors.New("profile not found")
	// ErrAlreadyExists 唯一约束冲突
	ErrAlreadyExists = errors.New("record already exists")
	// ErrObjectNotFound 对象存储中不存在该键
	ErrObjectNotFound = errors.New("object not found")
)

// DomainRepository 定义收信域名的存取操作。
type DomainRepository interface {
	CreateDomain(ctx context.Context, d *domain.Domain) error
	GetDomain(ctx context.Context, id string) (*domain.Domain, error)
	// GetDomainByName 按规范化（小写）域名精确匹配
	GetDomainByName(ctx context.Context, name string) (*domain.Domain, error)
	// ListDomains ids 为 nil 时返回全部
	ListDomains(ctx context.Context, ids []string) ([]*domain.Domain, error)
	MarkDomainVerified(ctx context.Context, id string) error
	// DeleteDomain 同时删除该域名下的地址与授权
	DeleteDomain(ctx context.Context, id string) error
}

// AddressRepository 定义白名单地址的存取操作。
type AddressRepository interface {
	CreateAddress(ctx context.Context, a *domain.Address) error
	GetAddress(ctx context.Context, id string) (*domain.Address, error)
	// FindAddress 按 (domainID, 小写本地部分) 查找
	FindAddress(ctx context.Context, domainID, localPart string) (*domain.Address, error)
	// ListAddresses createdBy 为空时不按创建者过滤
	ListAddresses(ctx context.Context, domainID, createdBy string) ([]*domain.Address, error)
	CountAddressesByCreator(ctx context.Context, domainID, userID string) (int, error)
	// RecordDelivery 累加收信计数；地址处于 pending 时原子地切换为 active 并写入首次收信时间。
	// 返回值表示本次调用是否完成了激活。
	RecordDelivery(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteAddress(ctx context.Context, id string) error
}

// MessageRepository 定义邮件的存取操作。
type MessageRepository interface {
	CreateMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	// FindByMessageID 按 RFC Message-ID 精确查找，多条时取最早的一条
	FindByMessageID(ctx context.Context, messageID string) (*domain.Message, error)
	// ClaimThreadID 仅当邮件尚无会话 ID 时写入 threadID（比较并设置）。
	// 返回该邮件最终的会话 ID：写入成功即 threadID，否则为已有的值。
	ClaimThreadID(ctx context.Context, id, threadID string) (string, error)
	ListMessages(ctx context.Context, filter domain.MessageFilter) ([]*domain.Message, error)
	// ListThread 返回会话内未删除的邮件，按接收时间升序
	ListThread(ctx context.Context, threadID string, domainIDs []string) ([]*domain.Message, error)
	SetMessageFlag(ctx context.Context, id string, flag domain.MessageFlag, value bool) error
	// DeleteMessage 永久删除邮件及其附件记录
	DeleteMessage(ctx context.Context, id string) error
}

// AttachmentRepository 定义附件元数据的存取操作。
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, a *domain.Attachment) error
	GetAttachment(ctx context.Context, id string) (*domain.Attachment, error)
	ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error)
}

// AccessRepository 定义域名授权与全局设置的存取操作。
type AccessRepository interface {
	UpsertAccess(ctx context.Context, a *domain.DomainAccess) error
	GetAccess(ctx context.Context, userID, domainID string) (*domain.DomainAccess, error)
	// ListAccess userID 为空时返回全部授权
	ListAccess(ctx context.Context, userID string) ([]*domain.DomainAccess, error)
	DeleteAccess(ctx context.Context, userID, domainID string) error
	GetSettings(ctx context.Context) (*domain.AppSettings, error)
	SaveSettings(ctx context.Context, s *domain.AppSettings) error
}

// ProfileRepository 定义用户资料的存取操作。
type ProfileRepository interface {
	// EnsureProfile 资料不存在时插入，已存在时不覆盖；p 回填为库中的记录
	EnsureProfile(ctx context.Context, p *domain.Profile) error
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	// ListProfiles 按创建时间倒序
	ListProfiles(ctx context.Context) ([]*domain.Profile, error)
	UpdateProfileRole(ctx context.Context, id string, role domain.ProfileRole) error
}

// RateLimitRepository 定义固定窗口计数器。
type RateLimitRepository interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Object 对象存储中的一个文件
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectStore 附件内容存储，键使用 "/" 分隔。
type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, data []byte) error
	GetObject(ctx context.Context, key string) (*Object, error)
	DeleteObject(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Store 聚合所有关系型存储接口。
type Store interface {
	DomainRepository
	AddressRepository
	MessageRepository
	AttachmentRepository
	AccessRepository
	ProfileRepository
	Ping(ctx context.Context) error
	Close() error
}

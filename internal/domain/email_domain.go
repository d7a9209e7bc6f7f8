package domain

import "time"

// Domain 表示一个已登记的收信域名，只有登记过的域名才会接收邮件。
type Domain struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name          string    `json:"domain" gorm:"column:domain;uniqueIndex;type:varchar(253);not null"`
	IsVerified    bool      `json:"isVerified" gorm:"default:false"`
	MXRecord      string    `json:"mxRecord,omitempty" gorm:"type:varchar(255)"`
	TXTRecord     string    `json:"txtRecord,omitempty" gorm:"type:varchar(512)"`
	WebhookSecret string    `json:"webhookSecret,omitempty" gorm:"type:varchar(64)"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TableName 对应 email_domains 表
func (Domain) TableName() string { return "email_domains" }

// DomainAccess 记录普通用户可管理的域名及其邮箱配额。
type DomainAccess struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID       string    `json:"userId" gorm:"type:varchar(64);not null;uniqueIndex:idx_access_user_domain"`
	DomainID     string    `json:"domainId" gorm:"type:varchar(36);not null;uniqueIndex:idx_access_user_domain;index"`
	MailboxLimit int       `json:"mailboxLimit" gorm:"default:5"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName 对应 domain_access 表
func (DomainAccess) TableName() string { return "domain_access" }

// DefaultMailboxLimit 新授权未指定配额时使用的默认值
const DefaultMailboxLimit = 5

// AppSettings 全局设置，单行存储。
type AppSettings struct {
	ID           string    `json:"-" gorm:"primaryKey;type:varchar(36)"`
	SupportEmail string    `json:"supportEmail" gorm:"type:varchar(320)"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName 对应 app_settings 表
func (AppSettings) TableName() string { return "app_settings" }

// AppSettingsID 设置表中唯一一行的主键
const AppSettingsID = "default"

package domain

import (
	"strings"
	"time"
)

// AddressStatus 地址状态
type AddressStatus string

const (
	// AddressStatusPending 已创建但尚未收到过邮件
	AddressStatusPending AddressStatus = "pending"
	// AddressStatusActive 已收到过至少一封邮件
	AddressStatusActive AddressStatus = "active"
)

// Address 表示允许收信的地址（白名单条目）。
type Address struct {
	ID              string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DomainID        string        `json:"domainId" gorm:"type:varchar(36);not null;uniqueIndex:idx_address_domain_local"`
	LocalPart       string        `json:"localPart" gorm:"type:varchar(64);not null;uniqueIndex:idx_address_domain_local"`
	DisplayName     string        `json:"displayName,omitempty" gorm:"type:varchar(255)"`
	Status          AddressStatus `json:"status" gorm:"type:varchar(16);default:'pending';index"`
	FirstReceivedAt *time.Time    `json:"firstReceivedAt,omitempty"`
	LastMailAt      *time.Time    `json:"lastMailAt,omitempty"`
	MailCount       int           `json:"mailCount" gorm:"default:0"`
	CreatedBy       string        `json:"createdBy,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt       time.Time     `json:"createdAt"`

	// 仅用于响应
	Email string `json:"email,omitempty" gorm:"-"`
}

// TableName 对应 email_addresses 表
func (Address) TableName() string { return "email_addresses" }

// FullAddress 拼接完整邮箱地址
func FullAddress(localPart, domainName string) string {
	return strings.ToLower(localPart) + "@" + strings.ToLower(domainName)
}

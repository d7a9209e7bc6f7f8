package domain

import "time"

// Folder 邮件所在文件夹
type Folder string

const (
	FolderInbox   Folder = "inbox"
	FolderSent    Folder = "sent"
	FolderStarred Folder = "starred"
	FolderArchive Folder = "archive"
	FolderTrash   Folder = "trash"
)

// DefaultSubject 入站邮件没有主题时使用
const DefaultSubject = "(No Subject)"

// Message 表示一封已存储的邮件（收到的或发出的）。
type Message struct {
	ID                string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AddressID         string            `json:"emailAddressId,omitempty" gorm:"column:email_address_id;type:varchar(36);index"`
	FromEmail         string            `json:"fromEmail" gorm:"type:varchar(320);not null"`
	FromName          string            `json:"fromName,omitempty" gorm:"type:varchar(255)"`
	ToEmail           string            `json:"toEmail" gorm:"type:varchar(320);not null;index"`
	ToName            string            `json:"toName,omitempty" gorm:"type:varchar(255)"`
	Subject           string            `json:"subject"`
	BodyText          string            `json:"bodyText,omitempty"`
	BodyHTML          string            `json:"bodyHtml,omitempty"`
	Headers           map[string]string `json:"headers,omitempty" gorm:"serializer:json"`
	MessageID         string            `json:"messageId,omitempty" gorm:"type:varchar(512);index"`
	InReplyTo         string            `json:"inReplyTo,omitempty" gorm:"type:varchar(512)"`
	References        []string          `json:"references,omitempty" gorm:"column:reference_ids;serializer:json"`
	ThreadID          string            `json:"threadId,omitempty" gorm:"type:varchar(36);index"`
	ProviderMessageID string            `json:"providerMessageId,omitempty" gorm:"type:varchar(255)"`
	IsRead            bool              `json:"isRead" gorm:"default:false"`
	IsStarred         bool              `json:"isStarred" gorm:"default:false"`
	IsArchived        bool              `json:"isArchived" gorm:"default:false"`
	IsTrash           bool              `json:"isTrash" gorm:"default:false"`
	IsSent            bool              `json:"isSent" gorm:"default:false"`
	Folder            Folder            `json:"folder" gorm:"type:varchar(32);default:'inbox'"`
	ReceivedAt        time.Time         `json:"receivedAt" gorm:"index"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`

	Attachments []*Attachment `json:"attachments,omitempty" gorm:"-"`
}

// TableName 对应 emails 表
func (Message) TableName() string { return "emails" }

// InFolder 判断邮件是否出现在指定文件夹视图中。
//
//	inbox   未删除、未归档、非发件
//	sent    发件且未删除
//	starred 星标且未删除
//	archive 归档且未删除
//	trash   已删除
//
// 其他取值按 folder 字段匹配且未删除。
func (m *Message) InFolder(f Folder) bool {
	switch f {
	case FolderInbox:
		return !m.IsTrash && !m.IsArchived && !m.IsSent
	case FolderSent:
		return m.IsSent && !m.IsTrash
	case FolderStarred:
		return m.IsStarred && !m.IsTrash
	case FolderArchive:
		return m.IsArchived && !m.IsTrash
	case FolderTrash:
		return m.IsTrash
	default:
		return m.Folder == f && !m.IsTrash
	}
}

// MessageFilter 列表查询条件
type MessageFilter struct {
	Folder Folder
	// DomainIDs 为 nil 时不限制；非 nil 时只返回这些域名下地址的邮件
	DomainIDs []string
	Limit     int
	Offset    int
}

// MessageFlag 可切换的邮件标记
type MessageFlag string

const (
	FlagRead     MessageFlag = "read"
	FlagStarred  MessageFlag = "starred"
	FlagArchived MessageFlag = "archived"
	FlagTrash    MessageFlag = "trash"
)

// Valid 判断标记名是否受支持
func (f MessageFlag) Valid() bool {
	switch f {
	case FlagRead, FlagStarred, FlagArchived, FlagTrash:
		return true
	}
	return false
}

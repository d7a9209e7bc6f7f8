package domain

import "time"

// Attachment 表示邮件附件的元数据，内容保存在对象存储中。
type Attachment struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID   string    `json:"emailId" gorm:"column:email_id;type:varchar(36);index;not null"`
	Filename    string    `json:"filename" gorm:"type:varchar(255)"`
	ContentType string    `json:"contentType" gorm:"type:varchar(255)"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storagePath" gorm:"type:varchar(600)"`
	CreatedAt   time.Time `json:"createdAt"`

	URL string `json:"url,omitempty" gorm:"-"`
}

// TableName 对应 email_attachments 表
func (Attachment) TableName() string { return "email_attachments" }

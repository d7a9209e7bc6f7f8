package domain

import "time"

// InboundEmail 入站邮件的规范化表示，webhook 和 SMTP 监听器都产出这个结构。
type InboundEmail struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	MessageID   string
	InReplyTo   string
	References  []string
	Headers     map[string]string
	Attachments []InboundAttachment
	// Source 入口名称（webhook、smtp），只用于日志和指标
	Source string
}

// InboundAttachment 入站附件。Content 为 base64 编码，解码失败只影响该附件。
type InboundAttachment struct {
	Filename    string
	ContentType string
	Content     string
}

// RejectReason 入站拒收原因，属于策略结果而不是错误。
type RejectReason string

const (
	RejectInvalidRecipient RejectReason = "invalid_recipient_format"
	RejectDomainUnknown    RejectReason = "domain_not_registered"
	RejectAddressNotListed RejectReason = "address_not_allowed"
)

// Message 返回给调用方的说明文字，没有则为空。
func (r RejectReason) Message() string {
	if r == RejectAddressNotListed {
		return "This email address is not registered. Create it via the app first."
	}
	return ""
}

// NewMailEvent 新邮件到达时推送给订阅方的事件
type NewMailEvent struct {
	AddressID  string    `json:"addressId"`
	Address    string    `json:"address"`
	MessageID  string    `json:"emailId"`
	ThreadID   string    `json:"threadId"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
}

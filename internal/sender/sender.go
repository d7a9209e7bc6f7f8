package sender

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"flowmail/backend/internal/config"
)

// Message 一封待发送的邮件。MessageID 带尖括号，由调用方生成。
type Message struct {
	FromEmail  string
	FromName   string
	To         string
	Subject    string
	Text       string
	HTML       string
	MessageID  string
	InReplyTo  string
	References []string
}

// FromHeader 返回 From 头的取值
func (m *Message) FromHeader() string {
	if m.FromName == "" {
		return m.FromEmail
	}
	return (&mail.Address{Name: m.FromName, Address: m.FromEmail}).String()
}

// ThreadHeaders 返回需要附加的会话相关头部
func (m *Message) ThreadHeaders() map[string]string {
	headers := make(map[string]string, 3)
	if m.MessageID != "" {
		headers["Message-ID"] = m.MessageID
	}
	if m.InReplyTo != "" {
		headers["In-Reply-To"] = m.InReplyTo
	}
	if len(m.References) > 0 {
		headers["References"] = strings.Join(m.References, " ")
	}
	return headers
}

// ProviderDomain 发信服务商侧登记的域名
type ProviderDomain struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
	Region string `json:"region,omitempty"`
}

// ProviderError 发信服务商返回的失败，Message 原样透传给调用方。
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// Sender 发信服务商适配器
type Sender interface {
	// Name 服务商名称
	Name() string
	// RequiresKey 是否需要 API key 才能工作
	RequiresKey() bool
	// Send 发送邮件并返回服务商侧的消息 ID
	Send(ctx context.Context, apiKey string, msg *Message) (string, error)
	// ListDomains 用给定凭据读取域名列表，凭据无效时返回 *ProviderError
	ListDomains(ctx context.Context, apiKey string) ([]ProviderDomain, error)
}

// New 根据配置创建发信适配器
func New(ctx context.Context, cfg config.SenderConfig, log *zap.Logger) (Sender, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "resend":
		return NewResend(cfg.APIBaseURL, log), nil
	case "ses":
		return NewSES(ctx, cfg, log)
	case "smtp":
		return NewSMTP(cfg, log), nil
	default:
		return nil, fmt.Errorf("unsupported sender provider %q", cfg.Provider)
	}
}

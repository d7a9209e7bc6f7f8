package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gomail "github.com/emersion/go-message/mail"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"flowmail/backend/internal/config"
)

// SMTP 通过上游 SMTP 中继发信，服务商消息 ID 即生成的 Message-ID。
type SMTP struct {
	addr     string
	username string
	password string
	log      *zap.Logger
}

// NewSMTP 创建 SMTP 中继适配器
func NewSMTP(cfg config.SenderConfig, log *zap.Logger) *SMTP {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTP{
		addr:     cfg.SMTPAddr,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		log:      log,
	}
}

func (s *SMTP) Name() string      { return "smtp" }
func (s *SMTP) RequiresKey() bool { return false }

// Send 投递到中继
func (s *SMTP) Send(ctx context.Context, _ string, msg *Message) (string, error) {
	if s.addr == "" {
		return "", errors.New("smtp relay address not configured")
	}
	raw, err := buildMIME(msg)
	if err != nil {
		return "", err
	}

	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}

	done := make(chan error, 1)
	go func() {
		done <- gosmtp.SendMail(s.addr, auth, msg.FromEmail, []string{msg.To}, bytes.NewReader(raw))
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			var se *gosmtp.SMTPError
			if errors.As(err, &se) {
				return "", &ProviderError{Provider: s.Name(), StatusCode: se.Code, Message: se.Message}
			}
			return "", fmt.Errorf("smtp send: %w", err)
		}
	}
	return msg.MessageID, nil
}

// ListDomains 只检查中继是否可连通，中继没有域名列表
func (s *SMTP) ListDomains(ctx context.Context, _ string) ([]ProviderDomain, error) {
	if s.addr == "" {
		return nil, &ProviderError{Provider: s.Name(), Message: "smtp relay address not configured"}
	}
	c, err := gosmtp.Dial(s.addr)
	if err != nil {
		return nil, fmt.Errorf("dial smtp relay: %w", err)
	}
	defer c.Close()

	if deadline, ok := ctx.Deadline(); ok {
		c.CommandTimeout = time.Until(deadline)
	}
	if err := c.Noop(); err != nil {
		return nil, fmt.Errorf("smtp noop: %w", err)
	}
	return []ProviderDomain{}, c.Quit()
}

// buildMIME 组装 multipart/alternative 邮件
func buildMIME(msg *Message) ([]byte, error) {
	var h gomail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*gomail.Address{{Name: msg.FromName, Address: msg.FromEmail}})
	h.SetAddressList("To", []*gomail.Address{{Address: msg.To}})
	if msg.MessageID != "" {
		h.SetMessageID(trimAngle(msg.MessageID))
	}
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{trimAngle(msg.InReplyTo)})
	}
	if len(msg.References) > 0 {
		refs := make([]string, 0, len(msg.References))
		for _, r := range msg.References {
			refs = append(refs, trimAngle(r))
		}
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mime writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline part: %w", err)
	}
	if err := writeTextPart(tw, "text/plain", msg.Text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writeTextPart(tw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTextPart(tw *gomail.InlineWriter, contentType, body string) error {
	var ph gomail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}

func trimAngle(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}


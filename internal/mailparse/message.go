package mailparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"flowmail/backend/internal/domain"
)

// maxHeaderValues 保存到 headers 字段的头部数量上限
const maxHeaderValues = 64

// ParseMessage 将 RFC 5322 原始邮件解析为入站邮件结构。
// 子部分的字符集或传输编码无法识别时按原样保留，不视为失败。
func ParseMessage(raw []byte) (*domain.InboundEmail, error) {
	// 顶层传输编码无法识别时 go-message 不返回 reader，只能整封拒收
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil || (err != nil && !isSoftError(err)) {
		return nil, fmt.Errorf("read message header: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	in := &domain.InboundEmail{
		Headers: collectHeaders(h),
	}

	in.Subject, _ = h.Subject()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		in.From = from[0].String()
	} else {
		in.From = h.Get("From")
	}
	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		in.To = to[0].Address
	} else {
		in.To = h.Get("To")
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		in.MessageID = "<" + id + ">"
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		in.InReplyTo = "<" + ids[0] + ">"
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		for _, id := range ids {
			in.References = append(in.References, "<"+id+">")
		}
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isSoftError(err) {
				continue
			}
			return nil, fmt.Errorf("read message part: %w", err)
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			body, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(ct, "text/html"):
				if in.HTML == "" {
					in.HTML = string(body)
				}
			case ct == "" || strings.HasPrefix(ct, "text/plain"):
				if in.Text == "" {
					in.Text = string(body)
				}
			default:
				in.Attachments = append(in.Attachments, newAttachment("", ct, body))
			}
		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			body, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			in.Attachments = append(in.Attachments, newAttachment(filename, ct, body))
		}
	}

	return in, nil
}

func newAttachment(filename, contentType string, body []byte) domain.InboundAttachment {
	return domain.InboundAttachment{
		Filename:    filename,
		ContentType: contentType,
		Content:     base64.StdEncoding.EncodeToString(body),
	}
}

func collectHeaders(h mail.Header) map[string]string {
	headers := make(map[string]string)
	fields := h.Fields()
	for fields.Next() && len(headers) < maxHeaderValues {
		key := fields.Key()
		if _, ok := headers[key]; ok {
			continue
		}
		if v, err := fields.Text(); err == nil {
			headers[key] = v
		} else {
			headers[key] = fields.Value()
		}
	}
	return headers
}

func isSoftError(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

package smtp

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"flowmail/backend/internal/config"
	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/logger"
	"flowmail/backend/internal/mailparse"
	"flowmail/backend/internal/service"
)

const (
	// DefaultMaxMessageBytes 单封邮件的默认上限
	DefaultMaxMessageBytes = 25 << 20
	maxRecipients          = 50
	deliverTimeout         = 30 * time.Second
)

// Receiver 入站邮件的落库入口
type Receiver interface {
	Receive(ctx context.Context, in domain.InboundEmail) (*service.ReceiveResult, error)
}

// Lookup RCPT 阶段准入判断需要的查询
type Lookup interface {
	service.DomainLookup
	service.AddressLookup
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往白名单地址的邮件，不做转发：
// RCPT 阶段按与 webhook 相同的准入规则判断，域名未登记或地址不在白名单中一律 550。
type Backend struct {
	lookup   Lookup
	receiver Receiver
	maxBytes int64
	log      *zap.Logger
}

// NewBackend 创建 SMTP Backend。maxBytes 小于等于 0 时使用默认值。
func NewBackend(lookup Lookup, receiver Receiver, maxBytes int64, log *zap.Logger) *Backend {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{lookup: lookup, receiver: receiver, maxBytes: maxBytes, log: log}
}

// NewServer 按配置创建 go-smtp 服务器
func NewServer(cfg config.SMTPConfig, backend *Backend) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = cfg.BindAddr
	server.Domain = cfg.Domain
	server.ReadTimeout = 30 * time.Second
	server.WriteTimeout = 30 * time.Second
	server.MaxMessageBytes = backend.maxBytes
	server.MaxRecipients = maxRecipients
	return server
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend    *Backend
	from       string
	recipients []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令，拒收原因映射为对应的 SMTP 回复码。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	decision, err := service.Admit(ctx, s.backend.lookup, s.backend.lookup, addr)
	if err != nil {
		s.backend.log.Error("smtp recipient lookup failed", logger.Email("to", addr), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary lookup failure, try again later",
		}
	}
	if !decision.Accepted {
		s.backend.log.Info("smtp recipient rejected",
			logger.Email("to", addr),
			zap.String("reason", string(decision.Reason)))
		return rejection(decision.Reason)
	}

	s.recipients = append(s.recipients, decision.Recipient())
	return nil
}

// Data 解析邮件内容，对每个已接受的收件人各落库一份。
// 全部收件人落库失败时返回 451 让对方重试。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, s.backend.maxBytes+1))
	if err != nil {
		return err
	}
	if int64(len(raw)) > s.backend.maxBytes {
		return gosmtp.ErrDataTooLarge
	}

	parsed, err := mailparse.ParseMessage(raw)
	if err != nil {
		s.backend.log.Warn("smtp message unparsable", zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	var failed []string
	stored := 0
	for _, rcpt := range s.recipients {
		in := *parsed
		in.To = rcpt
		in.Source = "smtp"
		if in.From == "" {
			in.From = s.from
		}

		result, err := s.backend.receiver.Receive(ctx, in)
		if err != nil {
			s.backend.log.Error("smtp delivery failed", logger.Email("to", rcpt), zap.Error(err))
			failed = append(failed, rcpt)
			continue
		}
		if result.Rejected {
			// RCPT 之后地址被删除的情况
			s.backend.log.Warn("smtp recipient rejected at delivery",
				logger.Email("to", rcpt),
				zap.String("reason", string(result.Reason)))
			continue
		}
		stored++
	}

	// 部分收件人已落库时接受整封邮件，重发会让这些副本重复
	if len(failed) > 0 && stored > 0 {
		s.backend.log.Error("smtp delivery partially failed",
			zap.Int("stored", stored),
			zap.Int("failed", len(failed)))
		return nil
	}
	if len(failed) > 0 {
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      fmt.Sprintf("delivery failed for %d recipient(s)", len(failed)),
		}
	}
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

func rejection(reason domain.RejectReason) error {
	switch reason {
	case domain.RejectInvalidRecipient:
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	case domain.RejectDomainUnknown:
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	default:
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient mailbox not found",
		}
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/logger"
	"flowmail/backend/internal/monitoring"
	"flowmail/backend/internal/sender"
	"flowmail/backend/internal/storage"
)

// SendInput 发信请求
type SendInput struct {
	ToEmail    string   `json:"to_email"`
	Subject    string   `json:"subject"`
	BodyText   string   `json:"body_text"`
	BodyHTML   string   `json:"body_html,omitempty"`
	FromEmail  string   `json:"from_email"`
	FromName   string   `json:"from_name,omitempty"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`
}

// SendResult 发信结果。ProviderMessageID 是服务商返回的 ID；Email 为空表示已发出但未能保存。
type SendResult struct {
	ProviderMessageID string
	Email             *domain.Message
	SideEffects       []SideEffectFailure
}

// OutboundStore 发信流程用到的存储操作
type OutboundStore interface {
	DomainLookup
	AddressLookup
	ThreadStore
	CreateMessage(ctx context.Context, m *domain.Message) error
	GetAccess(ctx context.Context, userID, domainID string) (*domain.DomainAccess, error)
}

// OutboundService 通过发信服务商发送邮件并保存到已发送。
type OutboundService struct {
	store    OutboundStore
	sender   sender.Sender
	profiles *sender.Profiles
	threads  *ThreadResolver
	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewOutboundService 创建发信服务
func NewOutboundService(store OutboundStore, s sender.Sender, profiles *sender.Profiles, metrics *monitoring.Metrics, log *zap.Logger) *OutboundService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboundService{
		store:    store,
		sender:   s,
		profiles: profiles,
		threads:  NewThreadResolver(store),
		metrics:  metrics,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Send 发送邮件。服务商失败原样返回 *sender.ProviderError；
// 发送成功后的保存失败只记录为旁路失败。p 为 nil 时不做发件域名授权检查。
func (s *OutboundService) Send(ctx context.Context, p *domain.Principal, in SendInput) (*SendResult, error) {
	if strings.TrimSpace(in.ToEmail) == "" || in.BodyText == "" || strings.TrimSpace(in.FromEmail) == "" {
		return nil, ErrMissingSendFields
	}

	fromEmail := strings.ToLower(strings.TrimSpace(in.FromEmail))
	_, fromLocal, fromDomain, ok := ParseRecipient(fromEmail)
	if !ok {
		return nil, fmt.Errorf("%w: from_email", ErrInvalidInput)
	}

	senderAddress, err := s.authorizeSender(ctx, p, fromLocal, fromDomain)
	if err != nil {
		return nil, err
	}

	subject := in.Subject
	if strings.TrimSpace(subject) == "" {
		subject = domain.DefaultSubject
	}
	html := in.BodyHTML
	if html == "" {
		html = strings.ReplaceAll(in.BodyText, "\n", "<br>")
	}
	references := compactIDs(in.References)
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), fromDomain)

	profile := s.profiles.ForDomain(fromDomain)
	providerID, err := s.sender.Send(ctx, profile.APIKey, &sender.Message{
		FromEmail:  fromEmail,
		FromName:   in.FromName,
		To:         strings.TrimSpace(in.ToEmail),
		Subject:    subject,
		Text:       in.BodyText,
		HTML:       html,
		MessageID:  messageID,
		InReplyTo:  strings.TrimSpace(in.InReplyTo),
		References: references,
	})
	if err != nil {
		s.metrics.RecordOutbound(s.sender.Name(), "error")
		s.log.Error("send email failed",
			zap.String("provider", s.sender.Name()),
			logger.Email("to", in.ToEmail),
			zap.Error(err))
		return nil, err
	}
	s.metrics.RecordOutbound(s.sender.Name(), "ok")

	result := &SendResult{ProviderMessageID: providerID}

	threadID, err := s.threads.Resolve(ctx, in.InReplyTo, references)
	if err != nil {
		s.recordSaveFailure(result, providerID, err)
		return result, nil
	}

	msg := &domain.Message{
		ID:                uuid.NewString(),
		FromEmail:         fromEmail,
		FromName:          in.FromName,
		ToEmail:           strings.TrimSpace(in.ToEmail),
		Subject:           subject,
		BodyText:          in.BodyText,
		BodyHTML:          in.BodyHTML,
		MessageID:         messageID,
		InReplyTo:         strings.TrimSpace(in.InReplyTo),
		References:        references,
		ThreadID:          threadID,
		ProviderMessageID: providerID,
		IsRead:            true,
		IsSent:            true,
		Folder:            domain.FolderSent,
		ReceivedAt:        s.now(),
	}
	if senderAddress != nil {
		msg.AddressID = senderAddress.ID
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		s.recordSaveFailure(result, providerID, err)
		return result, nil
	}

	result.Email = msg
	s.log.Info("email sent",
		zap.String("provider", s.sender.Name()),
		zap.String("providerMessageID", providerID),
		zap.String("threadID", threadID),
		logger.Email("to", in.ToEmail))
	return result, nil
}

// authorizeSender 非管理员只能使用已授权域名作为发件域名。
// 发件地址在白名单中时返回该地址，用于把已发送邮件归到该地址下。
func (s *OutboundService) authorizeSender(ctx context.Context, p *domain.Principal, local, domainName string) (*domain.Address, error) {
	d, err := s.store.GetDomainByName(ctx, domainName)
	switch {
	case errors.Is(err, storage.ErrDomainNotFound):
		if p != nil && !p.Admin {
			return nil, ErrForbidden
		}
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup sender domain: %w", err)
	}

	if p != nil && !p.Admin {
		if _, err := s.store.GetAccess(ctx, p.UserID, d.ID); err != nil {
			if errors.Is(err, storage.ErrAccessNotFound) {
				return nil, ErrForbidden
			}
			return nil, fmt.Errorf("lookup domain access: %w", err)
		}
	}

	addr, err := s.store.FindAddress(ctx, d.ID, local)
	switch {
	case errors.Is(err, storage.ErrAddressNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup sender address: %w", err)
	}
	return addr, nil
}

func (s *OutboundService) recordSaveFailure(result *SendResult, providerID string, err error) {
	s.log.Error("sent email could not be saved", zap.String("providerMessageID", providerID), zap.Error(err))
	s.metrics.RecordSideEffectFailure(EffectSentRecord)
	result.SideEffects = append(result.SideEffects, SideEffectFailure{
		Effect: EffectSentRecord, Target: providerID, Error: err.Error(),
	})
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

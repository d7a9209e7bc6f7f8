package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/logger"
	"flowmail/backend/internal/monitoring"
	"flowmail/backend/internal/security"
	"flowmail/backend/internal/storage"
)

// 旁路操作名称，用于 SideEffectFailure 与指标
const (
	EffectActivation       = "address_activation"
	EffectAttachmentDecode = "attachment_decode"
	EffectAttachmentSize   = "attachment_size"
	EffectAttachmentUpload = "attachment_upload"
	EffectAttachmentRecord = "attachment_record"
	EffectNotify           = "notify"
	EffectSentRecord       = "sent_record"
)

// SideEffectFailure 一次未影响主流程的旁路操作失败
type SideEffectFailure struct {
	Effect string `json:"effect"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error"`
}

// ReceiveResult 入站处理结果。拒收属于正常结果，SideEffects 记录被吞掉的非致命失败。
type ReceiveResult struct {
	Rejected    bool
	Reason      domain.RejectReason
	Message     *domain.Message
	Attachments int
	SideEffects []SideEffectFailure
}

// InboundStore 入站流程用到的存储操作
type InboundStore interface {
	DomainLookup
	AddressLookup
	ThreadStore
	CreateMessage(ctx context.Context, m *domain.Message) error
	RecordDelivery(ctx context.Context, id string, at time.Time) (bool, error)
	CreateAttachment(ctx context.Context, a *domain.Attachment) error
}

// InboundService 处理入站邮件：准入、归并会话、保存、激活地址、上传附件、推送。
type InboundService struct {
	store    InboundStore
	objects  storage.ObjectStore
	threads  *ThreadResolver
	policy   *security.AttachmentPolicy
	notifier Notifier
	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewInboundService 创建入站服务。notifier 和 metrics 可以为 nil。
func NewInboundService(store InboundStore, objects storage.ObjectStore, policy *security.AttachmentPolicy, notifier Notifier, metrics *monitoring.Metrics, log *zap.Logger) *InboundService {
	if log == nil {
		log = zap.NewNop()
	}
	if policy == nil {
		policy = security.NewAttachmentPolicy(0)
	}
	return &InboundService{
		store:    store,
		objects:  objects,
		threads:  NewThreadResolver(store),
		policy:   policy,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Receive 处理一封入站邮件。返回 error 只表示基础设施故障。
func (s *InboundService) Receive(ctx context.Context, in domain.InboundEmail) (*ReceiveResult, error) {
	started := time.Now()
	source := in.Source
	if source == "" {
		source = "webhook"
	}

	decision, err := Admit(ctx, s.store, s.store, in.To)
	if err != nil {
		s.log.Error("inbound admission lookup failed", zap.String("source", source), zap.Error(err))
		s.metrics.RecordInbound(source, "error", time.Since(started))
		return nil, err
	}
	if !decision.Accepted {
		s.log.Info("inbound email rejected",
			zap.String("source", source),
			logger.Email("to", in.To),
			zap.String("reason", string(decision.Reason)))
		s.metrics.RecordInbound(source, string(decision.Reason), time.Since(started))
		return &ReceiveResult{Rejected: true, Reason: decision.Reason}, nil
	}

	threadID, err := s.threads.Resolve(ctx, in.InReplyTo, in.References)
	if err != nil {
		s.metrics.RecordInbound(source, "error", time.Since(started))
		return nil, err
	}

	now := s.now()
	msg := s.buildMessage(in, decision, threadID, now)
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		s.metrics.RecordInbound(source, "error", time.Since(started))
		return nil, fmt.Errorf("store message: %w", err)
	}

	result := &ReceiveResult{Message: msg}

	if activated, err := s.store.RecordDelivery(ctx, decision.Address.ID, now); err != nil {
		s.sideEffect(result, EffectActivation, decision.Address.ID, err)
	} else if activated {
		s.log.Info("address activated", logger.Email("address", decision.Recipient()))
	}

	result.Attachments = s.storeAttachments(ctx, msg.ID, in.Attachments, result)

	if s.notifier != nil {
		evt := domain.NewMailEvent{
			AddressID:  decision.Address.ID,
			Address:    decision.Recipient(),
			MessageID:  msg.ID,
			ThreadID:   msg.ThreadID,
			From:       msg.FromEmail,
			Subject:    msg.Subject,
			ReceivedAt: msg.ReceivedAt,
		}
		if !s.notifier.NotifyNewMail(evt) {
			result.SideEffects = append(result.SideEffects, SideEffectFailure{
				Effect: EffectNotify, Target: msg.ID, Error: "notification queue full",
			})
		}
	}

	s.log.Info("inbound email stored",
		zap.String("source", source),
		zap.String("emailID", msg.ID),
		zap.String("threadID", threadID),
		logger.Email("to", decision.Recipient()),
		zap.Int("attachments", result.Attachments),
		zap.Int("sideEffectFailures", len(result.SideEffects)))
	s.metrics.RecordInbound(source, "stored", time.Since(started))
	return result, nil
}

func (s *InboundService) buildMessage(in domain.InboundEmail, d Decision, threadID string, now time.Time) *domain.Message {
	fromEmail, fromName := splitFrom(in.From)
	subject := in.Subject
	if strings.TrimSpace(subject) == "" {
		subject = domain.DefaultSubject
	}

	return &domain.Message{
		ID:         uuid.NewString(),
		AddressID:  d.Address.ID,
		FromEmail:  fromEmail,
		FromName:   fromName,
		ToEmail:    d.Recipient(),
		ToName:     d.DisplayName,
		Subject:    subject,
		BodyText:   in.Text,
		BodyHTML:   in.HTML,
		Headers:    in.Headers,
		MessageID:  strings.TrimSpace(in.MessageID),
		InReplyTo:  strings.TrimSpace(in.InReplyTo),
		References: in.References,
		ThreadID:   threadID,
		Folder:     domain.FolderInbox,
		ReceivedAt: now,
	}
}

// storeAttachments 逐个上传附件，单个失败不影响其余附件。返回成功保存的数量。
func (s *InboundService) storeAttachments(ctx context.Context, messageID string, atts []domain.InboundAttachment, result *ReceiveResult) int {
	stored := 0
	used := make(map[string]bool, len(atts))

	for i, att := range atts {
		name := security.SanitizeFilename(att.Filename)
		if used[name] {
			name = strconv.Itoa(i) + "-" + name
		}
		used[name] = true

		data, err := decodeBase64(att.Content)
		if err != nil {
			s.sideEffect(result, EffectAttachmentDecode, name, err)
			continue
		}
		if err := s.policy.CheckSize(len(data)); err != nil {
			s.sideEffect(result, EffectAttachmentSize, name, err)
			continue
		}

		contentType := s.policy.ContentType(att.ContentType, data)
		key := AttachmentKey(messageID, name)
		if err := s.objects.PutObject(ctx, key, contentType, data); err != nil {
			s.sideEffect(result, EffectAttachmentUpload, name, err)
			continue
		}

		record := &domain.Attachment{
			ID:          uuid.NewString(),
			MessageID:   messageID,
			Filename:    name,
			ContentType: contentType,
			Size:        int64(len(data)),
			StoragePath: key,
		}
		if err := s.store.CreateAttachment(ctx, record); err != nil {
			s.sideEffect(result, EffectAttachmentRecord, name, err)
			if delErr := s.objects.DeleteObject(ctx, key); delErr != nil {
				s.log.Warn("failed to remove orphaned attachment object", zap.String("key", key), zap.Error(delErr))
			}
			continue
		}
		s.metrics.RecordAttachmentSize(record.Size)
		stored++
	}
	return stored
}

func (s *InboundService) sideEffect(result *ReceiveResult, effect, target string, err error) {
	s.log.Warn("inbound side effect failed",
		zap.String("effect", effect),
		zap.String("target", target),
		zap.Error(err))
	s.metrics.RecordSideEffectFailure(effect)
	result.SideEffects = append(result.SideEffects, SideEffectFailure{Effect: effect, Target: target, Error: err.Error()})
}

// AttachmentKey 附件在对象存储中的键
func AttachmentKey(messageID, filename string) string {
	return "attachments/" + messageID + "/" + filename
}

// splitFrom 拆出发件人地址和显示名，无法解析时整体作为地址
func splitFrom(from string) (email, name string) {
	from = strings.TrimSpace(from)
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address), addr.Name
	}
	return from, ""
}

func decodeBase64(content string) ([]byte, error) {
	compact := strings.Join(strings.Fields(content), "")
	data, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		// 部分上游去掉了补齐字符
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"flowmail/backend/internal/config"
	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/mailparse"
	"flowmail/backend/internal/storage"
)

// 列表分页默认值
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// MessageView 单封邮件的展示结构：正文已去掉原始邮件包装，HTML 已过滤
type MessageView struct {
	*domain.Message
	DisplayText string               `json:"displayText"`
	DisplayHTML string               `json:"displayHtml,omitempty"`
	Attachments []*domain.Attachment `json:"attachments"`
}

// MessageService 邮件列表、会话、标记和附件访问。
type MessageService struct {
	store   storage.Store
	objects storage.ObjectStore
	access  *AccessService
	storage config.StorageConfig
	log     *zap.Logger
}

// NewMessageService 创建邮件服务
func NewMessageService(store storage.Store, objects storage.ObjectStore, access *AccessService, storageCfg config.StorageConfig, log *zap.Logger) *MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{store: store, objects: objects, access: access, storage: storageCfg, log: log}
}

// List 按文件夹列出调用方可见的邮件，最新的在前
func (s *MessageService) List(ctx context.Context, p *domain.Principal, folder domain.Folder, limit, offset int) ([]*domain.Message, error) {
	scope, err := s.access.DomainScope(ctx, p)
	if err != nil {
		return nil, err
	}
	if folder == "" {
		folder = domain.FolderInbox
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListMessages(ctx, domain.MessageFilter{
		Folder:    folder,
		DomainIDs: scope,
		Limit:     limit,
		Offset:    offset,
	})
}

// Get 读取单封邮件及其附件
func (s *MessageService) Get(ctx context.Context, p *domain.Principal, id string) (*MessageView, error) {
	msg, err := s.visibleMessage(ctx, p, id)
	if err != nil {
		return nil, err
	}
	atts, err := s.Attachments(ctx, p, id)
	if err != nil {
		return nil, err
	}

	body := mailparse.ExtractBody(msg.BodyText, msg.BodyHTML)
	return &MessageView{
		Message:     msg,
		DisplayText: body.Text,
		DisplayHTML: mailparse.SanitizeHTML(body.HTML),
		Attachments: atts,
	}, nil
}

// Thread 返回会话内未删除的邮件，最早的在前
func (s *MessageService) Thread(ctx context.Context, p *domain.Principal, threadID string) ([]*domain.Message, error) {
	scope, err := s.access.DomainScope(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.store.ListThread(ctx, threadID, scope)
}

// SetFlag 设置已读、星标、归档或删除标记
func (s *MessageService) SetFlag(ctx context.Context, p *domain.Principal, id string, flag domain.MessageFlag, value bool) (*domain.Message, error) {
	if !flag.Valid() {
		return nil, fmt.Errorf("%w: unknown flag %q", ErrInvalidInput, flag)
	}
	if _, err := s.visibleMessage(ctx, p, id); err != nil {
		return nil, err
	}
	if err := s.store.SetMessageFlag(ctx, id, flag, value); err != nil {
		return nil, mapNotFound(err)
	}
	return s.store.GetMessage(ctx, id)
}

// ToggleStar 切换星标
func (s *MessageService) ToggleStar(ctx context.Context, p *domain.Principal, id string) (*domain.Message, error) {
	msg, err := s.visibleMessage(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return s.SetFlag(ctx, p, id, domain.FlagStarred, !msg.IsStarred)
}

// DeleteForever 永久删除邮件，附件对象尽力删除
func (s *MessageService) DeleteForever(ctx context.Context, p *domain.Principal, id string) error {
	if _, err := s.visibleMessage(ctx, p, id); err != nil {
		return err
	}
	atts, err := s.store.ListAttachments(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return mapNotFound(err)
	}
	for _, a := range atts {
		if err := s.objects.DeleteObject(ctx, a.StoragePath); err != nil {
			s.log.Warn("failed to delete attachment object",
				zap.String("emailID", id),
				zap.String("key", a.StoragePath),
				zap.Error(err))
		}
	}
	s.log.Info("email deleted permanently", zap.String("emailID", id), zap.Int("attachments", len(atts)))
	return nil
}

// Attachments 列出邮件附件并填充公开地址
func (s *MessageService) Attachments(ctx context.Context, p *domain.Principal, messageID string) ([]*domain.Attachment, error) {
	if _, err := s.visibleMessage(ctx, p, messageID); err != nil {
		return nil, err
	}
	atts, err := s.store.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	for _, a := range atts {
		a.URL = s.PublicURL(a.StoragePath)
	}
	return atts, nil
}

// Download 读取附件内容
func (s *MessageService) Download(ctx context.Context, p *domain.Principal, attachmentID string) (*domain.Attachment, *storage.Object, error) {
	att, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, nil, mapNotFound(err)
	}
	if _, err := s.visibleMessage(ctx, p, att.MessageID); err != nil {
		return nil, nil, err
	}
	obj, err := s.objects.GetObject(ctx, att.StoragePath)
	if err != nil {
		return nil, nil, mapNotFound(err)
	}
	att.URL = s.PublicURL(att.StoragePath)
	return att, obj, nil
}

// PublicObject 读取公开桶中的对象，桶名不匹配时按不存在处理
func (s *MessageService) PublicObject(ctx context.Context, bucket, key string) (*storage.Object, error) {
	if bucket != s.storage.Bucket {
		return nil, ErrNotFound
	}
	obj, err := s.objects.GetObject(ctx, strings.TrimPrefix(key, "/"))
	if err != nil {
		return nil, mapNotFound(err)
	}
	return obj, nil
}

// PublicURL 附件的公开访问地址
func (s *MessageService) PublicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(s.storage.PublicBaseURL, "/") +
		"/storage/v1/object/public/" + url.PathEscape(s.storage.Bucket) + "/" + strings.Join(segments, "/")
}

// visibleMessage 读取邮件并检查调用方是否能看到它。
// 邮件归属地址所在的域名必须在调用方范围内；没有归属地址的邮件只有管理员可见。
func (s *MessageService) visibleMessage(ctx context.Context, p *domain.Principal, id string) (*domain.Message, error) {
	if p == nil {
		return nil, ErrForbidden
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if p.Admin {
		return msg, nil
	}
	if msg.AddressID == "" {
		return nil, ErrNotFound
	}
	addr, err := s.store.GetAddress(ctx, msg.AddressID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	ok, err := s.access.CanAccessDomain(ctx, p, addr.DomainID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return msg, nil
}

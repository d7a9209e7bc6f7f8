package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage"
)

// ThreadStore 会话归并需要的邮件查询
type ThreadStore interface {
	FindByMessageID(ctx context.Context, messageID string) (*domain.Message, error)
	ClaimThreadID(ctx context.Context, id, threadID string) (string, error)
}

// ThreadResolver 根据 In-Reply-To / References 找到邮件所属会话。
type ThreadResolver struct {
	store ThreadStore
	newID func() string
}

// NewThreadResolver 创建会话解析器
func NewThreadResolver(store ThreadStore) *ThreadResolver {
	return &ThreadResolver{store: store, newID: uuid.NewString}
}

// Resolve 先查 inReplyTo，再按顺序查 references，第一条命中的已存邮件决定会话。
// 命中的邮件还没有会话 ID 时生成一个并以比较并设置写回；写回失败说明已有并发写入，采用对方的 ID。
// 都没有命中时返回新的会话 ID。
func (r *ThreadResolver) Resolve(ctx context.Context, inReplyTo string, references []string) (string, error) {
	candidates := make([]string, 0, len(references)+1)
	candidates = append(candidates, inReplyTo)
	candidates = append(candidates, references...)

	for _, id := range candidates {
		if strings.TrimSpace(id) == "" {
			continue
		}

		parent, err := r.store.FindByMessageID(ctx, id)
		if errors.Is(err, storage.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("lookup parent message: %w", err)
		}

		if parent.ThreadID != "" {
			return parent.ThreadID, nil
		}
		threadID, err := r.store.ClaimThreadID(ctx, parent.ID, r.newID())
		if err != nil {
			return "", fmt.Errorf("stamp parent thread: %w", err)
		}
		return threadID, nil
	}

	return r.newID(), nil
}

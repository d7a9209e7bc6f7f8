package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/monitoring"
	"flowmail/backend/internal/pool"
)

// NewMailPublisher 把新邮件事件推给订阅方（本地 websocket hub 或 Redis 频道）
type NewMailPublisher interface {
	PublishNewMail(ctx context.Context, evt domain.NewMailEvent) error
}

// Notifier 新邮件通知。返回 false 表示通知未能排队。
type Notifier interface {
	NotifyNewMail(evt domain.NewMailEvent) bool
}

// AsyncNotifier 通过协程池异步推送，不阻塞入站请求
type AsyncNotifier struct {
	pool       *pool.WorkerPool
	publishers []NewMailPublisher
	timeout    time.Duration
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// NewAsyncNotifier 创建异步通知器
func NewAsyncNotifier(p *pool.WorkerPool, metrics *monitoring.Metrics, log *zap.Logger, publishers ...NewMailPublisher) *AsyncNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncNotifier{
		pool:       p,
		publishers: publishers,
		timeout:    5 * time.Second,
		metrics:    metrics,
		log:        log,
	}
}

// NotifyNewMail 排队推送任务，队列满时丢弃
func (n *AsyncNotifier) NotifyNewMail(evt domain.NewMailEvent) bool {
	queued := n.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		for _, p := range n.publishers {
			if err := p.PublishNewMail(ctx, evt); err != nil {
				n.metrics.RecordSideEffectFailure(EffectNotify)
				n.log.Warn("new mail notification failed",
					zap.String("addressID", evt.AddressID),
					zap.String("emailID", evt.MessageID),
					zap.Error(err))
			}
		}
	})
	if !queued {
		n.metrics.RecordNotificationDropped()
		n.log.Warn("notification queue full, dropping event", zap.String("emailID", evt.MessageID))
	}
	return queued
}

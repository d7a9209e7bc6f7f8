package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"flowmail/backend/internal/config"
	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage"
)

// NewMailChannel 跨实例广播新邮件事件的频道
const NewMailChannel = "flowmail:new_mail"

const rateLimitPrefix = "flowmail:ratelimit:"

// Client 封装 Redis 客户端，提供限流计数与新邮件发布订阅
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

var _ storage.RateLimitRepository = (*Client)(nil)

// New 创建新的 Redis 客户端并测试连接
func New(cfg config.RedisConfig, log *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return NewWithClient(rdb, log), nil
}

// NewWithClient 包装已有的 go-redis 客户端
func NewWithClient(rdb *goredis.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rdb: rdb, log: log}
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	return nil
}

// Ping 测试 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// IncrementRateLimit 固定窗口计数，窗口从第一次计数开始
func (c *Client) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := rateLimitPrefix + key
	n, err := c.rdb.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, fullKey, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// PublishNewMail 发布新邮件事件
func (c *Client) PublishNewMail(ctx context.Context, evt domain.NewMailEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, NewMailChannel, data).Err()
}

// SubscribeNewMail 订阅新邮件事件，阻塞直到 ctx 结束
func (c *Client) SubscribeNewMail(ctx context.Context, handle func(domain.NewMailEvent)) error {
	sub := c.rdb.Subscribe(ctx, NewMailChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", NewMailChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt domain.NewMailEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				c.log.Warn("dropping malformed new mail event", zap.Error(err))
				continue
			}
			handle(evt)
		}
	}
}

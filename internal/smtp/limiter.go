package smtp

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"flowmail/backend/internal/monitoring"
)

const busyReply = "421 4.7.0 Too many connections, try again later\r\n"

// ConnectionLimiter SMTP 连接限流器：限制并发连接数和每秒新建连接数。
// 超限的连接会收到 421 后立即关闭。
type ConnectionLimiter struct {
	net.Listener
	slots   chan struct{}
	limiter *rate.Limiter
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewConnectionLimiter 包装监听器
//
// 参数:
//   - maxConns: 最大并发连接数
//   - maxRate: 每秒最大新建连接数
func NewConnectionLimiter(ln net.Listener, maxConns, maxRate int, metrics *monitoring.Metrics, log *zap.Logger) *ConnectionLimiter {
	if maxConns <= 0 {
		maxConns = 100
	}
	if maxRate <= 0 {
		maxRate = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectionLimiter{
		Listener: ln,
		slots:    make(chan struct{}, maxConns),
		limiter:  rate.NewLimiter(rate.Limit(maxRate), maxRate),
		metrics:  metrics,
		log:      log,
	}
}

// Accept 返回下一个未超限的连接
func (l *ConnectionLimiter) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if !l.limiter.Allow() {
			l.refuse(conn, "rate")
			continue
		}

		select {
		case l.slots <- struct{}{}:
			return &limitedConn{Conn: conn, release: func() { <-l.slots }}, nil
		default:
			l.refuse(conn, "concurrency")
		}
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	return len(l.slots)
}

func (l *ConnectionLimiter) refuse(conn net.Conn, why string) {
	l.metrics.RecordRateLimitBlock("smtp")
	l.log.Warn("smtp connection refused",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.String("limit", why))
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = conn.Write([]byte(busyReply))
	_ = conn.Close()
}

// limitedConn 关闭时归还连接名额，重复关闭只归还一次
type limitedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}

package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger 可探测连通性的依赖（数据库、Redis、对象存储）
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check 单项检查结果
type Check struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report 汇总报告
type Report struct {
	Status    Status        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	Checks    []Check       `json:"checks"`
	Version   string        `json:"version"`
}

// Checker 把依赖探测注册为 readiness 检查，存活检查只看进程本身
type Checker struct {
	handler   healthcheck.Handler
	pingers   map[string]Pinger
	timeout   time.Duration
	startTime time.Time
	version   string
	mu        sync.RWMutex
	log       *zap.Logger
}

// NewChecker 创建健康检查器
func NewChecker(version string, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Checker{
		handler:   healthcheck.NewHandler(),
		pingers:   make(map[string]Pinger),
		timeout:   3 * time.Second,
		startTime: time.Now(),
		version:   version,
		log:       log,
	}
	c.handler.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	return c
}

// Register 注册一个依赖。p 为 nil 时忽略，便于可选组件直接传入。
func (c *Checker) Register(name string, p Pinger) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.pingers[name] = p
	c.mu.Unlock()

	c.handler.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		return p.Ping(ctx)
	}, c.timeout))
}

// LiveHandler /health/live
func (c *Checker) LiveHandler() http.Handler {
	return http.HandlerFunc(c.handler.LiveEndpoint)
}

// ReadyHandler /health/ready
func (c *Checker) ReadyHandler() http.Handler {
	return http.HandlerFunc(c.handler.ReadyEndpoint)
}

// Report 逐项探测并生成报告
func (c *Checker) Report(ctx context.Context) *Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.pingers))
	for name := range c.pingers {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(c.startTime),
		Checks:    make([]Check, 0, len(names)),
		Version:   c.version,
	}

	for _, name := range names {
		c.mu.RLock()
		p := c.pingers[name]
		c.mu.RUnlock()

		started := time.Now()
		pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.Ping(pingCtx)
		cancel()

		check := Check{Name: name, Status: StatusHealthy, Duration: time.Since(started)}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			report.Status = StatusUnhealthy
			c.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
		report.Checks = append(report.Checks, check)
	}
	return report
}

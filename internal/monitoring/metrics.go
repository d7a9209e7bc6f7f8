package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标。所有 Record 方法对 nil 接收者安全。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 入站指标
	InboundTotal       *prometheus.CounterVec
	InboundDuration    prometheus.Histogram
	SideEffectFailures *prometheus.CounterVec
	AttachmentSize     prometheus.Histogram

	// 发信指标
	OutboundTotal *prometheus.CounterVec

	// 推送指标
	NotificationsDropped prometheus.Counter
	WebsocketClients     prometheus.Gauge

	// 错误指标
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 在独立的 registry 上创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		InboundTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowmail_inbound_total",
				Help: "Inbound emails by outcome (stored or rejection reason)",
			},
			[]string{"source", "outcome"},
		),

		InboundDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowmail_inbound_duration_seconds",
				Help:    "Time spent admitting and storing an inbound email",
				Buckets: prometheus.DefBuckets,
			},
		),

		SideEffectFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowmail_side_effect_failures_total",
				Help: "Best-effort side effects that failed",
			},
			[]string{"effect"},
		),

		AttachmentSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowmail_attachment_size_bytes",
				Help:    "Size of stored attachments",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),

		OutboundTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowmail_outbound_total",
				Help: "Outbound sends by provider and result",
			},
			[]string{"provider", "result"},
		),

		NotificationsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "flowmail_notifications_dropped_total",
				Help: "New-mail notifications dropped because the worker queue was full",
			},
		),

		WebsocketClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowmail_websocket_clients",
				Help: "Connected websocket clients",
			},
		),

		PanicsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "flowmail_panics_total",
				Help: "Recovered panics in HTTP handlers",
			},
		),

		RateLimitBlocks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowmail_rate_limit_blocks_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"scope"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordInbound 记录入站结果，outcome 为 stored 或拒收原因
func (m *Metrics) RecordInbound(source, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.InboundTotal.WithLabelValues(source, outcome).Inc()
	m.InboundDuration.Observe(duration.Seconds())
}

// RecordSideEffectFailure 记录旁路操作失败
func (m *Metrics) RecordSideEffectFailure(effect string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(effect).Inc()
}

// RecordAttachmentSize 记录附件大小
func (m *Metrics) RecordAttachmentSize(size int64) {
	if m == nil {
		return
	}
	m.AttachmentSize.Observe(float64(size))
}

// RecordOutbound 记录发信结果
func (m *Metrics) RecordOutbound(provider, result string) {
	if m == nil {
		return
	}
	m.OutboundTotal.WithLabelValues(provider, result).Inc()
}

// RecordNotificationDropped 记录被丢弃的推送
func (m *Metrics) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

// UpdateWebsocketClients 更新在线连接数
func (m *Metrics) UpdateWebsocketClients(count int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Set(float64(count))
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(scope string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

// Registry 返回底层 registry，测试中用于读取指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

const defaultResendBaseURL = "https://api.resend.com"

// Resend 通过 Resend SDK 发信
type Resend struct {
	baseURL *url.URL
	client  *http.Client
	log     *zap.Logger
}

// NewResend 创建 Resend 适配器，baseURL 为空时使用官方地址
func NewResend(baseURL string, log *zap.Logger) *Resend {
	if baseURL == "" {
		baseURL = defaultResendBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	// SDK 按相对路径拼接，基地址必须以 / 结尾
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		log.Warn("invalid resend base url, using default", zap.String("baseURL", baseURL), zap.Error(err))
		base, _ = url.Parse(defaultResendBaseURL + "/")
	}
	return &Resend{
		baseURL: base,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: failureRecorder{next: http.DefaultTransport},
		},
		log: log,
	}
}

func (r *Resend) Name() string      { return "resend" }
func (r *Resend) RequiresKey() bool { return true }

// newClient 每次调用使用调用方给的 key，底层 http.Client 共享
func (r *Resend) newClient(apiKey string) *resend.Client {
	client := resend.NewCustomClient(r.client, apiKey)
	client.BaseURL = r.baseURL
	return client
}

// Send 调用 POST /emails
func (r *Resend) Send(ctx context.Context, apiKey string, msg *Message) (string, error) {
	params := &resend.SendEmailRequest{
		From:    msg.FromHeader(),
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
		Html:    msg.HTML,
	}
	if headers := msg.ThreadHeaders(); len(headers) > 0 {
		params.Headers = headers
	}

	ctx, failure := withFailure(ctx)
	sent, err := r.newClient(apiKey).Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", r.providerError("emails", failure, err, "Failed to send email")
	}
	return sent.Id, nil
}

// ListDomains 调用 GET /domains
func (r *Resend) ListDomains(ctx context.Context, apiKey string) ([]ProviderDomain, error) {
	ctx, failure := withFailure(ctx)
	resp, err := r.newClient(apiKey).Domains.ListWithContext(ctx)
	if err != nil {
		return nil, r.providerError("domains", failure, err, "Failed to list domains")
	}

	domains := make([]ProviderDomain, 0, len(resp.Data))
	for _, d := range resp.Data {
		domains = append(domains, ProviderDomain{
			ID:     d.Id,
			Name:   d.Name,
			Status: d.Status,
			Region: d.Region,
		})
	}
	return domains, nil
}

// providerError 把 SDK 错误还原成带状态码的 *ProviderError。
// 没有收到响应时（网络错误、超时）原样包装返回。
func (r *Resend) providerError(path string, failure *resendFailure, err error, fallback string) error {
	if failure.status == 0 {
		return fmt.Errorf("resend request: %w", err)
	}
	message := failure.message
	if message == "" {
		message = fallback
	}
	r.log.Warn("resend request failed",
		zap.String("path", path),
		zap.Int("status", failure.status),
		zap.String("error", message))
	return &ProviderError{Provider: r.Name(), StatusCode: failure.status, Message: message}
}

// resendFailure SDK 的错误只带文本，状态码和原始 message 在传输层记下
type resendFailure struct {
	status  int
	message string
}

type failureKey struct{}

func withFailure(ctx context.Context) (context.Context, *resendFailure) {
	f := &resendFailure{}
	return context.WithValue(ctx, failureKey{}, f), f
}

type failureRecorder struct {
	next http.RoundTripper
}

func (t failureRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode < http.StatusMultipleChoices {
		return resp, err
	}
	f, ok := req.Context().Value(failureKey{}).(*resendFailure)
	if !ok {
		return resp, nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var errBody struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &errBody)
	f.status = resp.StatusCode
	f.message = errBody.Message
	return resp, nil
}

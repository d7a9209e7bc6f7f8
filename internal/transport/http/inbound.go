package httptransport

import (
	"encoding/base64"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/logger"
	"flowmail/backend/internal/service"
)

// InboundHandler 接收邮件转发服务的 webhook
type InboundHandler struct {
	inbound *service.InboundService
	log     *zap.Logger
}

// NewInboundHandler 创建入站 webhook 处理器
func NewInboundHandler(inbound *service.InboundService, log *zap.Logger) *InboundHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &InboundHandler{inbound: inbound, log: log}
}

type inboundAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size,omitempty"`
	Content     string `json:"content"`
}

type inboundPayload struct {
	From        string              `json:"from"`
	To          string              `json:"to"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text"`
	HTML        string              `json:"html"`
	Headers     map[string]string   `json:"headers,omitempty"`
	MessageID   string              `json:"messageId"`
	InReplyTo   string              `json:"inReplyTo,omitempty"`
	References  []string            `json:"references,omitempty"`
	Attachments []inboundAttachment `json:"attachments,omitempty"`
}

type receiveResponse struct {
	Success  bool                        `json:"success"`
	EmailID  string                      `json:"emailId,omitempty"`
	Reason   domain.RejectReason         `json:"reason,omitempty"`
	Message  string                      `json:"message,omitempty"`
	Warnings []service.SideEffectFailure `json:"warnings,omitempty"`
}

// Receive godoc
// @Summary 接收入站邮件
// @Description 邮件转发服务的 webhook，支持 JSON 与 multipart 表单。策略拒收返回 200 且 success=false，避免上游重试
// @Tags Inbound
// @Accept json
// @Accept mpfd
// @Produce json
// @Param X-Webhook-Token header string false "webhook 令牌（配置后必填）"
// @Success 200 {object} receiveResponse
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /functions/v1/receive-email [post]
// @Router /v1/inbound [post]
func (h *InboundHandler) Receive(c *gin.Context) {
	payload, err := h.bindPayload(c)
	if err != nil {
		h.log.Warn("malformed inbound payload",
			zap.String("contentType", c.ContentType()),
			zap.Error(err))
		plainError(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	h.log.Info("received inbound email", logger.Email("to", payload.To))

	result, err := h.inbound.Receive(c.Request.Context(), payload.toInbound())
	if err != nil {
		h.log.Error("inbound email failed", logger.Email("to", payload.To), zap.Error(err))
		plainError(c, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Rejected {
		c.JSON(http.StatusOK, receiveResponse{
			Success: false,
			Reason:  result.Reason,
			Message: result.Reason.Message(),
		})
		return
	}

	c.JSON(http.StatusOK, receiveResponse{
		Success:  true,
		EmailID:  result.Message.ID,
		Warnings: result.SideEffects,
	})
}

// bindPayload 按 Content-Type 解析请求体，未知类型按 JSON 处理
func (h *InboundHandler) bindPayload(c *gin.Context) (*inboundPayload, error) {
	if strings.Contains(c.GetHeader("Content-Type"), "multipart/form-data") {
		return parseMultipartPayload(c)
	}

	var payload inboundPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// parseMultipartPayload 兼容 Mailgun 一类转发服务的表单字段名，上传的文件作为附件
func parseMultipartPayload(c *gin.Context) (*inboundPayload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	payload := &inboundPayload{
		From:      formValue(form, "from"),
		To:        formValue(form, "to", "recipient"),
		Subject:   formValue(form, "subject"),
		Text:      formValue(form, "text", "body-plain"),
		HTML:      formValue(form, "html", "body-html"),
		MessageID: formValue(form, "Message-Id", "message-id"),
		InReplyTo: formValue(form, "In-Reply-To", "in-reply-to"),
	}
	if refs := formValue(form, "References", "references"); refs != "" {
		payload.References = strings.Fields(refs)
	}

	for _, files := range form.File {
		for _, fh := range files {
			att, err := readFormFile(fh)
			if err != nil {
				return nil, err
			}
			payload.Attachments = append(payload.Attachments, att)
		}
	}
	return payload, nil
}

func readFormFile(fh *multipart.FileHeader) (inboundAttachment, error) {
	f, err := fh.Open()
	if err != nil {
		return inboundAttachment{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return inboundAttachment{}, err
	}
	return inboundAttachment{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        int64(len(data)),
		Content:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// formValue 返回第一个非空的字段值
func formValue(form *multipart.Form, keys ...string) string {
	for _, k := range keys {
		if v := form.Value[k]; len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return ""
}

func (p *inboundPayload) toInbound() domain.InboundEmail {
	atts := make([]domain.InboundAttachment, 0, len(p.Attachments))
	for _, a := range p.Attachments {
		atts = append(atts, domain.InboundAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}
	return domain.InboundEmail{
		From:        p.From,
		To:          p.To,
		Subject:     p.Subject,
		Text:        p.Text,
		HTML:        p.HTML,
		MessageID:   p.MessageID,
		InReplyTo:   p.InReplyTo,
		References:  p.References,
		Headers:     p.Headers,
		Attachments: atts,
		Source:      "webhook",
	}
}

package httptransport

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/middleware"
	"flowmail/backend/internal/sender"
	"flowmail/backend/internal/service"
)

// SendHandler 发信与发信服务商 key 相关接口
type SendHandler struct {
	outbound *service.OutboundService
	keys     *service.ProviderKeyService
	log      *zap.Logger
}

// NewSendHandler 创建发信处理器
func NewSendHandler(outbound *service.OutboundService, keys *service.ProviderKeyService, log *zap.Logger) *SendHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SendHandler{outbound: outbound, keys: keys, log: log}
}

type sendResponse struct {
	Success   bool                        `json:"success"`
	MessageID string                      `json:"message_id"`
	Email     *domain.Message             `json:"email,omitempty"`
	Warnings  []service.SideEffectFailure `json:"warnings,omitempty"`
}

type verifyKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// Send godoc
// @Summary 发送邮件
// @Description 通过发信服务商发送邮件，成功后保存到已发送并归入会话
// @Tags Send
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.SendInput true "发信内容"
// @Success 200 {object} sendResponse
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /functions/v1/send-email [post]
// @Router /v1/send [post]
func (h *SendHandler) Send(c *gin.Context) {
	var in service.SendInput
	if err := c.ShouldBindJSON(&in); err != nil {
		plainError(c, http.StatusBadRequest, MsgMissingSendFields)
		return
	}

	result, err := h.outbound.Send(c.Request.Context(), middleware.PrincipalFrom(c), in)
	if err != nil {
		var providerErr *sender.ProviderError
		if errors.As(err, &providerErr) {
			plainError(c, http.StatusInternalServerError, providerErr.Message)
			return
		}
		status, msg := statusFor(err, MsgAddressNotFound)
		if status == http.StatusInternalServerError {
			msg = err.Error()
		}
		plainError(c, status, msg)
		return
	}

	c.JSON(http.StatusOK, sendResponse{
		Success:   true,
		MessageID: result.ProviderMessageID,
		Email:     result.Email,
		Warnings:  result.SideEffects,
	})
}

// CheckKey godoc
// @Summary 检查发信服务商 key
// @Description 检查是否配置了 key 以及 key 是否有效，结果缓存一分钟。始终返回 200
// @Tags Send
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.KeyCheck
// @Router /functions/v1/check-resend-key [get]
// @Router /v1/provider/key [get]
func (h *SendHandler) CheckKey(c *gin.Context) {
	c.JSON(http.StatusOK, h.keys.Check(c.Request.Context()))
}

// VerifyKey godoc
// @Summary 验证发信服务商 key
// @Description 验证请求体中的 key，未提供时验证已配置的 key。始终返回 200
// @Tags Send
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body verifyKeyRequest false "待验证的 key"
// @Success 200 {object} service.KeyVerification
// @Router /functions/v1/verify-resend-key [post]
// @Router /v1/provider/key/verify [post]
func (h *SendHandler) VerifyKey(c *gin.Context) {
	var req verifyKeyRequest
	// 请求体可选，解析失败按未提供处理
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("ignoring unreadable verify body", zap.Error(err))
	}
	c.JSON(http.StatusOK, h.keys.Verify(c.Request.Context(), req.APIKey))
}

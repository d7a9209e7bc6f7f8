package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flowmail/backend/internal/service"
)

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgPermissionDenied = "权限不足"
	MsgNotFound         = "资源不存在"
	MsgAlreadyExists    = "资源已存在"
	MsgMailboxLimit     = "已达到该域名的邮箱数量上限"

	MsgDomainNotFound     = "域名不存在"
	MsgAddressNotFound    = "邮箱地址不存在"
	MsgMessageNotFound    = "邮件不存在"
	MsgAttachmentNotFound = "附件不存在"
	MsgUserNotFound       = "用户不存在"

	MsgInternalError = "服务器内部错误，请稍后重试"
)

// MsgMissingSendFields 发信接口缺少必填字段时的提示
const MsgMissingSendFields = "Missing required fields: to_email, body_text, from_email"

// statusFor 业务错误对应的 HTTP 状态码与提示。notFoundMsg 用于区分具体的资源。
func statusFor(err error, notFoundMsg string) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrMissingSendFields):
		return http.StatusBadRequest, MsgMissingSendFields
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, MsgPermissionDenied
	case errors.Is(err, service.ErrNotFound):
		if notFoundMsg == "" {
			notFoundMsg = MsgNotFound
		}
		return http.StatusNotFound, notFoundMsg
	case errors.Is(err, service.ErrDuplicate):
		return http.StatusConflict, MsgAlreadyExists
	case errors.Is(err, service.ErrMailboxLimitReached):
		return http.StatusConflict, MsgMailboxLimit
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 写出管理接口的错误响应，5xx 会记录日志
func respondError(c *gin.Context, log *zap.Logger, err error, notFoundMsg string) {
	status, msg := statusFor(err, notFoundMsg)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		_ = c.Error(err)
	}
	Error(c, status, msg)
}

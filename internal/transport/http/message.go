package httptransport

import (
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/middleware"
	"flowmail/backend/internal/service"
	"flowmail/backend/internal/storage"
)

// MessageHandler 邮件、会话与附件接口
type MessageHandler struct {
	messages *service.MessageService
	log      *zap.Logger
}

// NewMessageHandler 创建邮件处理器
func NewMessageHandler(messages *service.MessageService, log *zap.Logger) *MessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageHandler{messages: messages, log: log}
}

type setFlagRequest struct {
	Flag  domain.MessageFlag `json:"flag" binding:"required"`
	Value bool               `json:"value"`
}

type messageListResponse struct {
	Items  []*domain.Message `json:"items"`
	Folder domain.Folder     `json:"folder"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// ListMessages godoc
// @Summary 邮件列表
// @Description 按文件夹列出调用方可见的邮件，最新的在前
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param folder query string false "inbox/sent/starred/archive/trash，默认 inbox"
// @Param limit query int false "每页数量（默认50，最大200）"
// @Param offset query int false "偏移量"
// @Success 200 {object} Response{data=messageListResponse}
// @Failure 401 {object} errorResponse
// @Router /v1/messages [get]
func (h *MessageHandler) ListMessages(c *gin.Context) {
	folder := domain.Folder(c.DefaultQuery("folder", string(domain.FolderInbox)))
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	items, err := h.messages.List(c.Request.Context(), middleware.PrincipalFrom(c), folder, limit, offset)
	if err != nil {
		respondError(c, h.log, err, MsgMessageNotFound)
		return
	}
	if items == nil {
		items = []*domain.Message{}
	}
	Success(c, messageListResponse{Items: items, Folder: folder, Limit: limit, Offset: offset})
}

// GetMessage godoc
// @Summary 邮件详情
// @Description 返回邮件、附件，以及提取并清洗过的正文
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Success 200 {object} Response{data=service.MessageView}
// @Failure 404 {object} Response
// @Router /v1/messages/{id} [get]
func (h *MessageHandler) GetMessage(c *gin.Context) {
	view, err := h.messages.Get(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgMessageNotFound)
		return
	}
	Success(c, view)
}

// SetFlag godoc
// @Summary 设置邮件标记
// @Description flag 可选 read/starred/archived/trash
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Param request body setFlagRequest true "标记"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/messages/{id}/flags [patch]
func (h *MessageHandler) SetFlag(c *gin.Context) {
	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	msg, err := h.messages.SetFlag(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), req.Flag, req.Value)
	if err != nil {
		respondError(c, h.log, err, MsgMessageNotFound)
		return
	}
	Success(c, msg)
}

// MarkRead godoc
// @Summary 标记已读
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 404 {object} Response
// @Router /v1/messages/{id}/read [post]
func (h *MessageHandler) MarkRead(c *gin.Context) {
	msg, err := h.messages.SetFlag(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), domain.FlagRead, true)
	if err != nil {
		respondError(c, h.log, err, MsgMessageNotFound)
		return
	}
	Success(c, msg)
}

// ToggleStar godoc
// @Summary 切换星标
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 404 {object} Response
// @Router /v1/messages/{id}/star [post]
func (h *MessageHandler) ToggleStar(c *gin.Context) {
	msg, err := h.messages.ToggleStar(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgMessageNotFound)
		return
	}
	Success(c, msg)
}

// DeleteMessage godoc
// @Summary 永久删除邮件
// @Tags Messages
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/messages/{id} [delete]
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	if err := h.messages.DeleteForever(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		respondError(c, h.log, err, MsgMessageNotFound)
		return
	}
	NoContent(c)
}

// ListAttachments godoc
// @Summary 邮件附件列表
// @Tags Attachments
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Success 200 {object} Response{data=[]domain.Attachment}
// @Failure 404 {object} Response
// @Router /v1/messages/{id}/attachments [get]
func (h *MessageHandler) ListAttachments(c *gin.Context) {
	atts, err := h.messages.Attachments(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgMessageNotFound)
		return
	}
	if atts == nil {
		atts = []*domain.Attachment{}
	}
	Success(c, atts)
}

// DownloadAttachment godoc
// @Summary 下载附件
// @Tags Attachments
// @Produce octet-stream
// @Security BearerAuth
// @Param id path string true "附件ID"
// @Success 200 {file} binary
// @Failure 404 {object} Response
// @Router /v1/attachments/{id}/download [get]
func (h *MessageHandler) DownloadAttachment(c *gin.Context) {
	att, obj, err := h.messages.Download(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgAttachmentNotFound)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = obj.ContentType
	}
	// 附件下载不使用统一响应格式，直接返回二进制流
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	writeObject(c, contentType, obj)
}

// Thread godoc
// @Summary 会话视图
// @Description 会话内未删除的邮件，最早的在前
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} Response{data=[]domain.Message}
// @Router /v1/threads/{id} [get]
func (h *MessageHandler) Thread(c *gin.Context) {
	items, err := h.messages.Thread(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgMessageNotFound)
		return
	}
	if items == nil {
		items = []*domain.Message{}
	}
	Success(c, items)
}

// PublicObject godoc
// @Summary 公开附件地址
// @Description 附件公开 URL 指向这里，路径与对象存储的公开访问格式一致
// @Tags Attachments
// @Produce octet-stream
// @Param bucket path string true "桶名"
// @Param key path string true "对象键"
// @Success 200 {file} binary
// @Failure 404 {object} Response
// @Router /storage/v1/object/public/{bucket}/{key} [get]
func (h *MessageHandler) PublicObject(c *gin.Context) {
	obj, err := h.messages.PublicObject(c.Request.Context(), c.Param("bucket"), c.Param("key"))
	if err != nil {
		respondError(c, h.log, err, MsgAttachmentNotFound)
		return
	}
	// 附件内容由发件人提供，只允许图片和 PDF 内联展示，其余一律按下载处理
	c.Header("Content-Security-Policy", "sandbox")
	if !inlineSafe(obj.ContentType) {
		name := path.Base(c.Param("key"))
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}
	writeObject(c, obj.ContentType, obj)
}

func inlineSafe(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if mediaType == "application/pdf" {
		return true
	}
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}

func writeObject(c *gin.Context, contentType string, obj *storage.Object) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Length", strconv.Itoa(len(obj.Data)))
	c.Data(http.StatusOK, contentType, obj.Data)
}

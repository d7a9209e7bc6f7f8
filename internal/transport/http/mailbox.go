package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flowmail/backend/internal/middleware"
	"flowmail/backend/internal/service"
)

// MailboxHandler 域名与白名单地址管理
type MailboxHandler struct {
	mailboxes *service.MailboxService
	log       *zap.Logger
}

// NewMailboxHandler 创建邮箱管理处理器
func NewMailboxHandler(mailboxes *service.MailboxService, log *zap.Logger) *MailboxHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailboxHandler{mailboxes: mailboxes, log: log}
}

type createDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// ListDomains godoc
// @Summary 域名列表
// @Description 管理员返回全部域名，普通用户只返回已授权的域名
// @Tags Domains
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]domain.Domain}
// @Failure 401 {object} errorResponse
// @Router /v1/domains [get]
func (h *MailboxHandler) ListDomains(c *gin.Context) {
	domains, err := h.mailboxes.ListDomains(c.Request.Context(), middleware.PrincipalFrom(c))
	if err != nil {
		respondError(c, h.log, err, MsgDomainNotFound)
		return
	}
	Success(c, domains)
}

// CreateDomain godoc
// @Summary 登记域名
// @Tags Domains
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createDomainRequest true "域名"
// @Success 201 {object} Response{data=domain.Domain}
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Failure 409 {object} Response
// @Router /v1/domains [post]
func (h *MailboxHandler) CreateDomain(c *gin.Context) {
	var req createDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	d, err := h.mailboxes.CreateDomain(c.Request.Context(), middleware.PrincipalFrom(c), req.Domain)
	if err != nil {
		respondError(c, h.log, err, MsgDomainNotFound)
		return
	}
	Created(c, d)
}

// VerifyDomain godoc
// @Summary 标记域名已验证
// @Tags Domains
// @Produce json
// @Security BearerAuth
// @Param id path string true "域名ID"
// @Success 200 {object} Response{data=domain.Domain}
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /v1/domains/{id}/verify [post]
func (h *MailboxHandler) VerifyDomain(c *gin.Context) {
	d, err := h.mailboxes.VerifyDomain(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgDomainNotFound)
		return
	}
	Success(c, d)
}

// DeleteDomain godoc
// @Summary 删除域名
// @Description 同时删除该域名下的地址与授权
// @Tags Domains
// @Security BearerAuth
// @Param id path string true "域名ID"
// @Success 204
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /v1/domains/{id} [delete]
func (h *MailboxHandler) DeleteDomain(c *gin.Context) {
	if err := h.mailboxes.DeleteDomain(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		respondError(c, h.log, err, MsgDomainNotFound)
		return
	}
	NoContent(c)
}

// ListAddresses godoc
// @Summary 域名下的地址列表
// @Tags Addresses
// @Produce json
// @Security BearerAuth
// @Param id path string true "域名ID"
// @Param mine query bool false "只返回自己创建的地址"
// @Success 200 {object} Response{data=[]domain.Address}
// @Failure 404 {object} Response
// @Router /v1/domains/{id}/addresses [get]
func (h *MailboxHandler) ListAddresses(c *gin.Context) {
	onlyMine := c.Query("mine") == "true"
	addrs, err := h.mailboxes.ListAddresses(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), onlyMine)
	if err != nil {
		respondError(c, h.log, err, MsgDomainNotFound)
		return
	}
	Success(c, addrs)
}

// CreateAddress godoc
// @Summary 创建白名单地址
// @Description 普通用户需要该域名的授权，并受邮箱数量上限约束
// @Tags Addresses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "域名ID"
// @Param request body service.CreateAddressInput true "地址"
// @Success 201 {object} Response{data=domain.Address}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /v1/domains/{id}/addresses [post]
func (h *MailboxHandler) CreateAddress(c *gin.Context) {
	var in service.CreateAddressInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	in.DomainID = c.Param("id")

	addr, err := h.mailboxes.CreateAddress(c.Request.Context(), middleware.PrincipalFrom(c), in)
	if err != nil {
		respondError(c, h.log, err, MsgDomainNotFound)
		return
	}
	Created(c, addr)
}

// DeleteAddress godoc
// @Summary 删除白名单地址
// @Tags Addresses
// @Security BearerAuth
// @Param id path string true "地址ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/addresses/{id} [delete]
func (h *MailboxHandler) DeleteAddress(c *gin.Context) {
	if err := h.mailboxes.DeleteAddress(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		respondError(c, h.log, err, MsgAddressNotFound)
		return
	}
	NoContent(c)
}

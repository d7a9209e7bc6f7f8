package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/middleware"
	"flowmail/backend/internal/service"
)

// AdminHandler 用户角色、域名授权与全局设置（路由层已要求管理员身份，读取设置除外）
type AdminHandler struct {
	access   *service.AccessService
	profiles *service.ProfileService
	log      *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(access *service.AccessService, profiles *service.ProfileService, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{access: access, profiles: profiles, log: log}
}

type updateSettingsRequest struct {
	SupportEmail string `json:"supportEmail"`
}

type updateRoleRequest struct {
	Role domain.ProfileRole `json:"role" binding:"required"`
}

// ListUsers godoc
// @Summary 用户列表
// @Description 所有登录过的用户，最新的在前
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]domain.Profile}
// @Failure 403 {object} errorResponse
// @Router /v1/admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.profiles.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, "")
		return
	}
	Success(c, users)
}

// UpdateUserRole godoc
// @Summary 修改用户角色
// @Description 角色为 owner、admin 或 user。不能修改自己，涉及 owner 的变更需要 owner 操作
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "用户ID"
// @Param request body updateRoleRequest true "角色"
// @Success 200 {object} Response{data=domain.Profile}
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /v1/admin/users/{id}/role [patch]
func (h *AdminHandler) UpdateUserRole(c *gin.Context) {
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	profile, err := h.profiles.UpdateRole(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), req.Role)
	if err != nil {
		respondError(c, h.log, err, MsgUserNotFound)
		return
	}
	Success(c, profile)
}

// ListAccess godoc
// @Summary 域名授权列表
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId query string false "按用户过滤"
// @Success 200 {object} Response{data=[]domain.DomainAccess}
// @Failure 403 {object} errorResponse
// @Router /v1/admin/access [get]
func (h *AdminHandler) ListAccess(c *gin.Context) {
	grants, err := h.access.ListGrants(c.Request.Context(), c.Query("userId"))
	if err != nil {
		respondError(c, h.log, err, "")
		return
	}
	Success(c, grants)
}

// GrantAccess godoc
// @Summary 新增或更新域名授权
// @Description mailboxLimit 小于等于 0 时使用默认值 5
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.GrantInput true "授权"
// @Success 200 {object} Response{data=domain.DomainAccess}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/admin/access [put]
func (h *AdminHandler) GrantAccess(c *gin.Context) {
	var in service.GrantInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	grant, err := h.access.Grant(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.log, err, MsgDomainNotFound)
		return
	}
	Success(c, grant)
}

// RevokeAccess godoc
// @Summary 撤销域名授权
// @Tags Admin
// @Security BearerAuth
// @Param userId path string true "用户ID"
// @Param domainId path string true "域名ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/admin/access/{userId}/{domainId} [delete]
func (h *AdminHandler) RevokeAccess(c *gin.Context) {
	if err := h.access.Revoke(c.Request.Context(), c.Param("userId"), c.Param("domainId")); err != nil {
		respondError(c, h.log, err, "")
		return
	}
	NoContent(c)
}

// GetSettings godoc
// @Summary 读取全局设置
// @Tags Settings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=domain.AppSettings}
// @Router /v1/settings [get]
func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.access.Settings(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, "")
		return
	}
	Success(c, settings)
}

// UpdateSettings godoc
// @Summary 更新全局设置
// @Tags Settings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body updateSettingsRequest true "设置"
// @Success 200 {object} Response{data=domain.AppSettings}
// @Failure 400 {object} Response
// @Failure 403 {object} errorResponse
// @Router /v1/settings [put]
func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	settings, err := h.access.UpdateSettings(c.Request.Context(), req.SupportEmail)
	if err != nil {
		respondError(c, h.log, err, "")
		return
	}
	Success(c, settings)
}

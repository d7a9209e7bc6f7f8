package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginSwagger "github.com/swaggo/gin-swagger"
	swaggerFiles "github.com/swaggo/files"
	"go.uber.org/zap"

	jwtpkg "flowmail/backend/internal/auth/jwt"
	"flowmail/backend/internal/config"
	"flowmail/backend/internal/health"
	"flowmail/backend/internal/middleware"
	"flowmail/backend/internal/monitoring"
	"flowmail/backend/internal/service"
	"flowmail/backend/internal/storage"
	"flowmail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	InboundService  *service.InboundService
	OutboundService *service.OutboundService
	KeyService      *service.ProviderKeyService
	MailboxService  *service.MailboxService
	MessageService  *service.MessageService
	AccessService   *service.AccessService
	ProfileService  *service.ProfileService
	JWTManager      *jwtpkg.Manager
	WebSocketHub    *websocket.Hub              // 可选
	RateCounter     storage.RateLimitRepository // 可选，配置 Redis 时多实例共享限流计数
	Health          *health.Checker
	Metrics         *monitoring.Metrics
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.Recovery(log, deps.Metrics))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(middleware.SecurityHeaders())

	maxBody := deps.Config.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.DefaultBodyLimit
	}
	router.Use(middleware.BodySizeLimit(maxBody))

	// CORS 配置，请求头兼容前端 SDK 发出的 apikey / x-client-info
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Accept", "Content-Type", "Authorization",
			"X-Client-Info", "Apikey", middleware.WebhookTokenHeader,
		},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	inboundHandler := NewInboundHandler(deps.InboundService, log)
	sendHandler := NewSendHandler(deps.OutboundService, deps.KeyService, log)
	mailboxHandler := NewMailboxHandler(deps.MailboxService, log)
	messageHandler := NewMessageHandler(deps.MessageService, log)
	adminHandler := NewAdminHandler(deps.AccessService, deps.ProfileService, log)

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)
	if deps.ProfileService != nil {
		jwtAuth.WithResolver(deps.ProfileService)
	}
	requireAuth := jwtAuth.RequireAuth()
	requireAdmin := middleware.RequireAdmin()
	webhookToken := middleware.WebhookToken(deps.Config.Inbound.WebhookToken)
	inboundLimit := middleware.NewRateLimiter("inbound", deps.Config.Inbound.RateLimitPerMinute,
		deps.RateCounter, deps.Metrics, log).Middleware()

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查与指标
	if deps.Health != nil {
		router.GET("/health", func(c *gin.Context) {
			report := deps.Health.Report(c.Request.Context())
			status := http.StatusOK
			if report.Status != health.StatusHealthy {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, report)
		})
		router.GET("/health/live", gin.WrapH(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapH(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// 附件公开地址
	router.GET("/storage/v1/object/public/:bucket/*key", messageHandler.PublicObject)

	// ========== 函数式接口（保持前端已有的调用路径） ==========
	functions := router.Group("/functions/v1")
	{
		functions.POST("/receive-email", inboundLimit, webhookToken, inboundHandler.Receive)
		functions.POST("/send-email", requireAuth, sendHandler.Send)
		functions.GET("/check-resend-key", requireAuth, sendHandler.CheckKey)
		functions.POST("/check-resend-key", requireAuth, sendHandler.CheckKey)
		functions.POST("/verify-resend-key", requireAuth, requireAdmin, sendHandler.VerifyKey)
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		v1.POST("/inbound", inboundLimit, webhookToken, inboundHandler.Receive)

		authed := v1.Group("")
		authed.Use(requireAuth)
		{
			authed.POST("/send", sendHandler.Send)
			authed.GET("/provider/key", sendHandler.CheckKey)
			authed.POST("/provider/key/verify", requireAdmin, sendHandler.VerifyKey)

			// ========== Domain & Address Routes ==========
			authed.GET("/domains", mailboxHandler.ListDomains)
			authed.POST("/domains", requireAdmin, mailboxHandler.CreateDomain)
			authed.POST("/domains/:id/verify", requireAdmin, mailboxHandler.VerifyDomain)
			authed.DELETE("/domains/:id", requireAdmin, mailboxHandler.DeleteDomain)
			authed.GET("/domains/:id/addresses", mailboxHandler.ListAddresses)
			authed.POST("/domains/:id/addresses", mailboxHandler.CreateAddress)
			authed.DELETE("/addresses/:id", mailboxHandler.DeleteAddress)

			// ========== Message Routes ==========
			authed.GET("/messages", messageHandler.ListMessages)
			authed.GET("/messages/:id", messageHandler.GetMessage)
			authed.PATCH("/messages/:id/flags", messageHandler.SetFlag)
			authed.POST("/messages/:id/read", messageHandler.MarkRead)
			authed.POST("/messages/:id/star", messageHandler.ToggleStar)
			authed.DELETE("/messages/:id", messageHandler.DeleteMessage)
			authed.GET("/messages/:id/attachments", messageHandler.ListAttachments)
			authed.GET("/attachments/:id/download", messageHandler.DownloadAttachment)
			authed.GET("/threads/:id", messageHandler.Thread)

			// ========== Settings ==========
			authed.GET("/settings", adminHandler.GetSettings)
			authed.PUT("/settings", requireAdmin, adminHandler.UpdateSettings)
		}

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(requireAuth, requireAdmin)
		{
			adminRoutes.GET("/users", adminHandler.ListUsers)
			adminRoutes.PATCH("/users/:id/role", adminHandler.UpdateUserRole)
			adminRoutes.GET("/access", adminHandler.ListAccess)
			adminRoutes.PUT("/access", adminHandler.GrantAccess)
			adminRoutes.DELETE("/access/:userId/:domainId", adminHandler.RevokeAccess)
		}

		// ========== WebSocket Routes ==========
		// 令牌在握手时由 hub 自行校验（浏览器无法为 websocket 设置请求头）
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}

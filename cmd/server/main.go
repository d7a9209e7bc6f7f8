package main

// @title FlowMail Backend API
// @version 1.0.0
// @description FlowMail 后端 API：入站收信、发信、邮箱与邮件管理
// @contact.name API Support
// @contact.email support@example.com
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description 使用格式：Bearer {token}
// @securityDefinitions.apikey WebhookToken
// @in header
// @name X-Webhook-Token
// @description 入站 webhook 共享令牌

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "flowmail/backend/internal/auth/jwt"
	"flowmail/backend/internal/cache"
	"flowmail/backend/internal/config"
	"flowmail/backend/internal/health"
	"flowmail/backend/internal/logger"
	"flowmail/backend/internal/monitoring"
	"flowmail/backend/internal/pool"
	"flowmail/backend/internal/security"
	"flowmail/backend/internal/sender"
	"flowmail/backend/internal/service"
	"flowmail/backend/internal/smtp"
	"flowmail/backend/internal/storage"
	"flowmail/backend/internal/storage/filesystem"
	"flowmail/backend/internal/storage/memory"
	"flowmail/backend/internal/storage/postgres"
	"flowmail/backend/internal/storage/redis"
	"flowmail/backend/internal/storage/s3store"
	httptransport "flowmail/backend/internal/transport/http"
	"flowmail/backend/internal/websocket"
)

const version = "1.0.0"

// main 启动 HTTP API、可选的 SMTP 收信监听与 WebSocket 推送。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.FromSettings(cfg.Log.Level, cfg.Log.Development, cfg.Log.File)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting flowmail server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	checker := health.NewChecker(version, log)

	// 初始化存储层
	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize database storage", zap.Error(err))
	}
	defer store.Close()
	checker.Register("database", store)

	objects, err := openObjectStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize attachment storage", zap.Error(err))
	}
	checker.Register("objects", objects)

	// Redis 可选：用于跨实例推送和共享限流计数
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient, err = redis.New(cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close()
		checker.Register("redis", redisClient)
		log.Info("redis enabled", zap.String("address", cfg.Redis.Address))
	}

	// 发信服务商
	provider, err := sender.New(ctx, cfg.Sender, log)
	if err != nil {
		log.Fatal("failed to initialize sender", zap.Error(err))
	}
	profiles, err := sender.LoadProfiles(cfg.Sender.ProfilesFile, sender.Profile{APIKey: cfg.Sender.APIKey})
	if err != nil {
		log.Fatal("failed to load sender profiles", zap.Error(err))
	}

	jwtManager := jwtpkg.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AdminEmails)

	// 初始化服务层
	accessService := service.NewAccessService(store, log)
	profileService := service.NewProfileService(store, log)
	mailboxService := service.NewMailboxService(store, accessService, log)
	messageService := service.NewMessageService(store, objects, accessService, cfg.Storage, log)
	outboundService := service.NewOutboundService(store, provider, profiles, metrics, log)
	keyCache := cache.NewLocalCache[service.KeyCheck](16, time.Minute)
	keyService := service.NewProviderKeyService(provider, profiles, keyCache, log)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, profileService.Tokens(jwtManager), mailboxService, metrics, log)

	// 有 Redis 时只发布到 Redis，由各实例的 hub 转发给本地连接；否则直接推给本实例 hub
	notifyPool := pool.NewWorkerPool(8, 1024, log)
	var publisher service.NewMailPublisher = wsHub
	if redisClient != nil {
		publisher = redisClient
	}
	notifier := service.NewAsyncNotifier(notifyPool, metrics, log, publisher)

	policy := security.NewAttachmentPolicy(cfg.Inbound.MaxAttachmentBytes)
	inboundService := service.NewInboundService(store, objects, policy, notifier, metrics, log)

	// 创建 HTTP 服务器
	var rateCounter storage.RateLimitRepository
	if redisClient != nil {
		rateCounter = redisClient
	}
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		InboundService:  inboundService,
		OutboundService: outboundService,
		KeyService:      keyService,
		MailboxService:  mailboxService,
		MessageService:  messageService,
		AccessService:   accessService,
		ProfileService:  profileService,
		JWTManager:      jwtManager,
		WebSocketHub:    wsHub,
		RateCounter:     rateCounter,
		Health:          checker,
		Metrics:         metrics,
		Logger:          log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var smtpServer *gosmtp.Server
	if cfg.SMTP.Enabled {
		backend := smtp.NewBackend(store, inboundService, cfg.Server.MaxBodyBytes, log)
		smtpServer = smtp.NewServer(cfg.SMTP, backend)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	notifyPool.Start(groupCtx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	if smtpServer != nil {
		group.Go(func() error {
			ln, err := net.Listen("tcp", cfg.SMTP.BindAddr)
			if err != nil {
				return fmt.Errorf("listen smtp: %w", err)
			}
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			limited := smtp.NewConnectionLimiter(ln, 100, 20, metrics, log)
			if err := smtpServer.Serve(limited); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 跨实例新邮件事件转发
	if redisClient != nil {
		group.Go(func() error {
			log.Info("relaying new mail events from redis")
			return wsHub.RelayFrom(groupCtx, redisClient)
		})
	}

	// 定时清理本地缓存
	group.Go(func() error {
		keyCache.Run(groupCtx, time.Minute)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 关闭 SMTP 服务器
		if smtpServer != nil {
			if err := smtpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("SMTP server shutdown warning", zap.Error(err))
			}
		}

		notifyPool.Stop()
		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// openStore 配置了数据库时使用 GORM 存储，否则使用内存存储（开发环境）
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Warn("using memory storage (development mode), data is lost on restart")
		return memory.NewStore(), nil
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info("database storage initialized", zap.String("type", cfg.Database.Type))
	return store, nil
}

// openObjectStore 附件存储，默认落在本地文件系统
func openObjectStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		store, err := s3store.New(ctx, cfg.Storage, log)
		if err != nil {
			return nil, err
		}
		log.Info("using s3 attachment storage", zap.String("bucket", cfg.Storage.Bucket))
		return store, nil
	default:
		path := cfg.Storage.Path
		if path == "" {
			path = "./data/attachments"
		}
		store, err := filesystem.NewStore(path)
		if err != nil {
			return nil, err
		}
		log.Info("using filesystem attachment storage", zap.String("path", path))
		return store, nil
	}
}

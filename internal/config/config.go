package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host         string // 监听地址，默认 "0.0.0.0"
	Port         int    // 监听端口，默认 8080
	MaxBodyBytes int64  // 请求体上限（webhook 携带 base64 附件，默认 25MB）
}

// SMTPConfig 定义可选的 SMTP 收信监听器
type SMTPConfig struct {
	Enabled  bool   // 是否启动 SMTP 监听
	BindAddr string // 监听地址，格式 "host:port"，默认 ":2525"
	Domain   string // HELO/EHLO 使用的主机名
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色控制台输出
	File        string // 日志文件路径，留空只输出到标准输出
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string // "postgres"、"mysql"，留空使用内存存储
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig 定义 Redis 配置，Address 为空表示不启用
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// AuthConfig 外部认证服务签发的 JWT 校验参数
type AuthConfig struct {
	JWTSecret   string   // HS256 共享密钥，至少 32 字符
	Issuer      string   // 期望的 iss，留空不校验
	AdminEmails []string // 视为管理员的邮箱
}

// StorageConfig 附件对象存储配置
type StorageConfig struct {
	Backend       string // "filesystem" 或 "s3"
	Path          string // filesystem 根目录
	Bucket        string // 桶名，默认 "email-attachments"
	Region        string
	Endpoint      string // 兼容 S3 的自定义端点
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // 生成附件公开链接的前缀
}

// SenderConfig 发信服务配置
type SenderConfig struct {
	Provider     string // "resend"、"ses" 或 "smtp"
	APIKey       string
	APIBaseURL   string
	Region       string
	AccessKey    string
	SecretKey    string
	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	ProfilesFile string // 按发件域名选择凭据的 YAML 文件
}

// InboundConfig 入站 webhook 配置
type InboundConfig struct {
	WebhookToken       string // 非空时要求请求携带该令牌
	RateLimitPerMinute int    // 每个来源 IP 每分钟的请求上限，0 表示不限
	MaxAttachmentBytes int    // 单个附件解码后的最大字节数
}

// Config 是系统配置的根结构体
type Config struct {
	Server   ServerConfig
	SMTP     SMTPConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Sender   SenderConfig
	Inbound  InboundConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 优先级：系统环境变量 > .env 文件 > 默认值。
// 环境变量前缀为 FLOWMAIL_，例如 FLOWMAIL_SERVER_PORT、FLOWMAIL_AUTH_JWT_SECRET。
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("flowmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 25<<20)
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.bind_addr", ":2525")
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("database.type", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.admin_emails", "")
	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.path", "./data/objects")
	v.SetDefault("storage.bucket", "email-attachments")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.public_base_url", "http://localhost:8080")
	v.SetDefault("sender.provider", "resend")
	v.SetDefault("sender.api_base_url", "https://api.resend.com")
	v.SetDefault("sender.region", "us-east-1")
	v.SetDefault("inbound.rate_limit_per_minute", 120)
	v.SetDefault("inbound.max_attachment_bytes", 20<<20)

	jwtSecret := v.GetString("auth.jwt_secret")
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: auth JWT secret must be at least 32 characters long. Please set FLOWMAIL_AUTH_JWT_SECRET")
	}

	dbType := strings.ToLower(strings.TrimSpace(v.GetString("database.type")))
	switch dbType {
	case "", "postgres", "postgresql", "mysql":
	default:
		return nil, fmt.Errorf("unsupported database.type %q", dbType)
	}
	if dbType != "" && v.GetString("database.dsn") == "" {
		return nil, fmt.Errorf("database.dsn is required when database.type is %q", dbType)
	}

	backend := strings.ToLower(v.GetString("storage.backend"))
	if backend != "filesystem" && backend != "s3" {
		return nil, fmt.Errorf("unsupported storage.backend %q", backend)
	}

	provider := strings.ToLower(v.GetString("sender.provider"))
	if provider != "resend" && provider != "ses" && provider != "smtp" {
		return nil, fmt.Errorf("unsupported sender.provider %q", provider)
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			MaxBodyBytes: v.GetInt64("server.max_body_bytes"),
		},
		SMTP: SMTPConfig{
			Enabled:  v.GetBool("smtp.enabled"),
			BindAddr: v.GetString("smtp.bind_addr"),
			Domain:   v.GetString("smtp.domain"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret:   jwtSecret,
			Issuer:      v.GetString("auth.issuer"),
			AdminEmails: parseEmails(v.GetString("auth.admin_emails")),
		},
		Storage: StorageConfig{
			Backend:       backend,
			Path:          v.GetString("storage.path"),
			Bucket:        v.GetString("storage.bucket"),
			Region:        v.GetString("storage.region"),
			Endpoint:      v.GetString("storage.endpoint"),
			AccessKey:     v.GetString("storage.access_key"),
			SecretKey:     v.GetString("storage.secret_key"),
			PublicBaseURL: strings.TrimRight(v.GetString("storage.public_base_url"), "/"),
		},
		Sender: SenderConfig{
			Provider:     provider,
			APIKey:       v.GetString("sender.api_key"),
			APIBaseURL:   strings.TrimRight(v.GetString("sender.api_base_url"), "/"),
			Region:       v.GetString("sender.region"),
			AccessKey:    v.GetString("sender.access_key"),
			SecretKey:    v.GetString("sender.secret_key"),
			SMTPAddr:     v.GetString("sender.smtp_addr"),
			SMTPUsername: v.GetString("sender.smtp_username"),
			SMTPPassword: v.GetString("sender.smtp_password"),
			ProfilesFile: v.GetString("sender.profiles_file"),
		},
		Inbound: InboundConfig{
			WebhookToken:       v.GetString("inbound.webhook_token"),
			RateLimitPerMinute: v.GetInt("inbound.rate_limit_per_minute"),
			MaxAttachmentBytes: v.GetInt("inbound.max_attachment_bytes"),
		},
	}

	return cfg, nil
}

// parseEmails 解析逗号分隔的邮箱列表并转为小写
func parseEmails(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片，去除空白项
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载当前目录或父目录的 .env，文件不存在时静默跳过。
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}

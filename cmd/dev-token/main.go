package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	jwtpkg "flowmail/backend/internal/auth/jwt"
	"flowmail/backend/internal/config"
	"flowmail/backend/internal/service"
)

// main 用服务端的 JWT 密钥签发访问令牌，便于在没有认证服务的环境下调试 API。
func main() {
	email := flag.String("email", "", "用户邮箱")
	userID := flag.String("user", "", "用户 ID，留空时随机生成")
	role := flag.String("role", "", "角色，admin 表示管理员")
	ttl := flag.Duration("ttl", 24*time.Hour, "令牌有效期")
	flag.Parse()

	if _, _, _, ok := service.ParseRecipient(*email); !ok {
		fmt.Println("Usage: dev-token -email=<email> [-user=<id>] [-role=admin] [-ttl=24h]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *userID == "" {
		*userID = uuid.New().String()
	}

	manager := jwtpkg.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AdminEmails)
	token, err := manager.GenerateToken(*userID, *email, *role, *ttl)
	if err != nil {
		fmt.Printf("Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	principal, err := manager.Principal(token)
	if err != nil {
		fmt.Printf("Generated token does not validate: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Token issued\n")
	fmt.Printf("  User:    %s\n", principal.UserID)
	fmt.Printf("  Email:   %s\n", principal.Email)
	fmt.Printf("  Admin:   %t\n", principal.Admin)
	fmt.Printf("  Expires: %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Printf("\n%s\n", token)
}

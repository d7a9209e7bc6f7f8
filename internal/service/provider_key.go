package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowmail/backend/internal/cache"
	"flowmail/backend/internal/sender"
)

// keyCheckTTL 密钥检查结果的缓存时间
const keyCheckTTL = time.Minute

const keyCheckCacheKey = "provider-key-check"

// KeyCheck 已配置密钥的状态
type KeyCheck struct {
	HasKey  bool                    `json:"hasKey"`
	IsValid *bool                   `json:"isValid,omitempty"`
	Domains []sender.ProviderDomain `json:"domains,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// KeyVerification 指定密钥的校验结果
type KeyVerification struct {
	Valid   bool                    `json:"valid"`
	Message string                  `json:"message,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Domains []sender.ProviderDomain `json:"domains,omitempty"`
}

// ProviderKeyService 检查发信服务商凭据
type ProviderKeyService struct {
	sender   sender.Sender
	profiles *sender.Profiles
	cache    *cache.LocalCache[KeyCheck]
	log      *zap.Logger
}

// NewProviderKeyService 创建凭据检查服务
func NewProviderKeyService(s sender.Sender, profiles *sender.Profiles, c *cache.LocalCache[KeyCheck], log *zap.Logger) *ProviderKeyService {
	if log == nil {
		log = zap.NewNop()
	}
	if c == nil {
		c = cache.NewLocalCache[KeyCheck](16, keyCheckTTL)
	}
	return &ProviderKeyService{sender: s, profiles: profiles, cache: c, log: log}
}

// Check 用默认凭据请求服务商的域名列表。结果缓存一分钟。
func (s *ProviderKeyService) Check(ctx context.Context) KeyCheck {
	if cached, ok := s.cache.Get(keyCheckCacheKey); ok {
		return cached
	}

	key := strings.TrimSpace(s.profiles.Default.APIKey)
	if key == "" && s.sender.RequiresKey() {
		result := KeyCheck{HasKey: false}
		s.cache.Set(keyCheckCacheKey, result, keyCheckTTL)
		return result
	}

	valid := false
	result := KeyCheck{HasKey: true, IsValid: &valid}
	domains, err := s.sender.ListDomains(ctx, key)
	if err != nil {
		s.log.Warn("provider key check failed", zap.String("provider", s.sender.Name()), zap.Error(err))
		var pe *sender.ProviderError
		if !errors.As(err, &pe) {
			// 网络错误不缓存，下次重新检查
			return result
		}
	} else {
		valid = true
		result.Domains = domains
	}

	s.cache.Set(keyCheckCacheKey, result, keyCheckTTL)
	return result
}

// Verify 校验请求中给出的密钥，没有给出时使用默认凭据。
func (s *ProviderKeyService) Verify(ctx context.Context, apiKey string) KeyVerification {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = strings.TrimSpace(s.profiles.Default.APIKey)
	}
	if key == "" && s.sender.RequiresKey() {
		return KeyVerification{
			Error: "API key is required. Provide apiKey or set FLOWMAIL_SENDER_API_KEY.",
		}
	}

	domains, err := s.sender.ListDomains(ctx, key)
	if err != nil {
		s.log.Warn("provider key verification failed", zap.String("provider", s.sender.Name()), zap.Error(err))
		var pe *sender.ProviderError
		if errors.As(err, &pe) {
			return KeyVerification{Error: fmt.Sprintf("Invalid API key (Status: %d)", pe.StatusCode)}
		}
		return KeyVerification{Error: err.Error()}
	}

	// 校验通过后清掉缓存，让下一次 Check 反映最新状态
	s.cache.Delete(keyCheckCacheKey)
	return KeyVerification{
		Valid:   true,
		Message: "API key verified successfully",
		Domains: domains,
	}
}

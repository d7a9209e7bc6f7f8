package domain

import (
	"errors"
	"regexp"
	"strings"
)

// 校验相关的错误定义
var (
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrInvalidDomain    = errors.New("invalid domain format")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
)

// RFC 5321 长度限制
const (
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	localPartRegex = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._+-]*[a-z0-9])?$`)
	domainRegex    = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)+$`)
)

// NormalizeDomainName 去除空白并转小写
func NormalizeDomainName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeLocalPart 去除空白并转小写
func NormalizeLocalPart(local string) string {
	return strings.ToLower(strings.TrimSpace(local))
}

// ValidateDomainName 校验已规范化的域名，至少包含一个点。
func ValidateDomainName(name string) error {
	if name == "" {
		return ErrInvalidDomain
	}
	if len(name) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(name) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateLocalPart 校验已规范化的本地部分。
func ValidateLocalPart(local string) error {
	if local == "" {
		return ErrInvalidLocalPart
	}
	if len(local) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(local) || strings.Contains(local, "..") {
		return ErrInvalidLocalPart
	}
	return nil
}

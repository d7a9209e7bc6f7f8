package logger

import "strings"

// RedactEmail 对邮箱地址做脱敏处理，用于日志输出
//
//	"john.doe@example.com" → "jo***@example.com"
//	"ab@example.com"       → "***@example.com"
//
// 可带显示名（"Name <a@b>"），只保留尖括号内的地址部分。
func RedactEmail(email string) string {
	if start := strings.LastIndex(email, "<"); start >= 0 {
		email = strings.TrimSuffix(email[start+1:], ">")
	}
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

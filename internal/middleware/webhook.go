package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookTokenHeader 入站 webhook 携带共享令牌的请求头
const WebhookTokenHeader = "X-Webhook-Token"

// WebhookToken 校验入站 webhook 的共享令牌，token 为空时不校验。
// 令牌也可以放在 token 查询参数里，方便只能配置 URL 的邮件服务。
func WebhookToken(token string) gin.HandlerFunc {
	expected := []byte(token)

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(WebhookTokenHeader)
		if got == "" {
			got = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"flowmail/backend/internal/monitoring"
)

// HTTPMetrics 记录请求数与耗时。按路由模板聚合，未匹配的路径统一记为 unmatched。
func HTTPMetrics(metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

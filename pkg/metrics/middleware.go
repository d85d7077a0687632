package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MonitorMiddleware 监控中间件，按路由模板聚合
func MonitorMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Handler 暴露 Prometheus 抓取端点
func Handler(g prometheus.Gatherer) gin.HandlerFunc {
	var h http.Handler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

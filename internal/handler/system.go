package handlers

import (
	"context"
	"net/http"
	"time"

	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
)

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleSystemStats 主机与运行时快照
func (h *Handlers) handleSystemStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	response.Success(c, "ok", metrics.CollectSystemStats(ctx))
}

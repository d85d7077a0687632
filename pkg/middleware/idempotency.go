package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"SafeCircle/pkg/cache"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/response"
)

type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 决定一段时间内重复请求的拒绝窗口
	Store      cache.Cache   // 本地或 Redis，多节点时必须共享
}

// IdempotencyMiddleware 带 Idempotency-Key 的写请求在 TTL 内只执行一次。
// 没带请求头的请求直接放行；处理失败(5xx)时释放键以便客户端重试。
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Store == nil {
		cfg.Store = cache.NewLocalCache(cache.LocalConfig{DefaultExpiration: cfg.TTL})
	}
	return func(c *gin.Context) {
		value := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if value == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		key := idempotencyKey(currentUserID(c), c.Request.Method, c.Request.URL.Path, value)
		ok, err := cfg.Store.SetNX(c.Request.Context(), key, time.Now().Unix(), cfg.TTL)
		if err != nil {
			// 存储不可用时不阻塞业务
			c.Next()
			return
		}
		if !ok {
			response.Error(c, errors.Conflict("duplicate request"))
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			_ = cfg.Store.Delete(c.Request.Context(), key)
		}
	}
}

func idempotencyKey(user, method, path, value string) string {
	h := sha256.Sum256([]byte(user + "|" + method + "|" + path + "|" + value))
	return "idem:" + hex.EncodeToString(h[:])
}

package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/response"
)

// RateLimiterConfig 限流配置
//
// Rate 形如 "20-M"；Identifier 取 ip、user、ip+route，user 在未登录时退回 ip。
// SkipPaths 按前缀匹配。Store 默认内存，多节点部署时传入 Redis store。
type RateLimiterConfig struct {
	Rate       string
	Identifier string
	SkipPaths  []string
	AddHeaders bool
}

// DenyObserver 被拒绝的请求按路由上报
type DenyObserver interface {
	OnDeny(route string)
}

// MetricsAdapter 把拒绝次数记到应用指标上
type MetricsAdapter struct{ M *metrics.Metrics }

func (a MetricsAdapter) OnDeny(route string) { a.M.RecordRateLimited(route) }

type RateLimiter struct {
	cfg      RateLimiterConfig
	lim      *limiter.Limiter
	observer DenyObserver
}

// NewRateLimiter Rate 无法解析时按 10-S 处理
func NewRateLimiter(cfg RateLimiterConfig, store limiter.Store) *RateLimiter {
	if store == nil {
		store = memory.NewStore()
	}
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		rate = limiter.Rate{Period: time.Second, Limit: 10}
	}
	return &RateLimiter{cfg: cfg, lim: limiter.New(store, rate)}
}

// WithObserver 只应在注册路由前调用
func (l *RateLimiter) WithObserver(o DenyObserver) *RateLimiter {
	l.observer = o
	return l
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		if l.skipped(route) {
			c.Next()
			return
		}

		res, err := l.lim.Get(c.Request.Context(), l.key(c, route))
		if err != nil {
			// 存储不可用时放行
			c.Next()
			return
		}
		reset := time.Unix(res.Reset, 0)
		if l.cfg.AddHeaders {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			c.Header("X-RateLimit-Reset", strconv.Itoa(secondsUntil(reset)))
		}
		if !res.Reached {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(secondsUntil(reset)))
		if l.observer != nil {
			l.observer.OnDeny(route)
		}
		response.Error(c, errors.WithCode(errors.CodeRateLimited, "too many requests, please slow down").
			WithDetail("limit", res.Limit).
			WithDetail("resetAt", reset.UTC()))
	}
}

func (l *RateLimiter) skipped(route string) bool {
	for _, p := range l.cfg.SkipPaths {
		if p != "" && strings.HasPrefix(route, p) {
			return true
		}
	}
	return false
}

func (l *RateLimiter) key(c *gin.Context, route string) string {
	ip := strings.TrimPrefix(c.ClientIP(), "::ffff:")
	switch l.cfg.Identifier {
	case "user":
		if id := currentUserID(c); id != "" {
			return "user:" + id
		}
	case "ip+route":
		return "iprt:" + ip + ":" + route
	}
	return "ip:" + ip
}

// currentUserID 鉴权中间件写入的 user_id，未登录为空
func currentUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return c.Request.URL.Path
}

func secondsUntil(t time.Time) int {
	if s := int(time.Until(t).Seconds()); s > 0 {
		return s
	}
	return 0
}

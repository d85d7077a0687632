package handlers

import (
	"time"

	"SafeCircle/internal/services"
	"SafeCircle/pkg/cache"
	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/middleware"
	"SafeCircle/pkg/sse"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ulule/limiter/v3"
	"gorm.io/gorm"
)

// Options 路由层的可选依赖
type Options struct {
	APIPrefix string
	// 认证接口限流，如 "20-M"
	AuthRate     string
	LimiterStore limiter.Store
	// 幂等键存储，多节点时应为 redis
	IdempotencyStore cache.Cache
	IdempotencyTTL   time.Duration
	Metrics          *metrics.Metrics
	Gatherer         prometheus.Gatherer
	// 为空时不注册 /events
	Streams *sse.Hub
}

type Handlers struct {
	db   *gorm.DB
	svc  *services.Services
	opts Options
}

func NewHandlers(db *gorm.DB, svc *services.Services, opts Options) *Handlers {
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api"
	}
	if opts.AuthRate == "" {
		opts.AuthRate = "20-M"
	}
	registerValidators()
	return &Handlers{db: db, svc: svc, opts: opts}
}

func (h *Handlers) Register(engine *gin.Engine) {
	if h.opts.Gatherer != nil {
		engine.GET("/metrics", metrics.Handler(h.opts.Gatherer))
	}

	r := engine.Group(h.opts.APIPrefix)
	h.registerSystemRoutes(r)
	h.registerAuthRoutes(r)

	// 幂等中间件依赖 user_id，放在鉴权之后
	authed := r.Group("", h.authRequired, middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
		TTL:   h.opts.IdempotencyTTL,
		Store: h.opts.IdempotencyStore,
	}))
	h.registerUserRoutes(authed)
	h.registerCircleRoutes(authed)
	h.registerCheckInRoutes(authed)
	h.registerAlertRoutes(authed)
	if h.opts.Streams != nil {
		authed.GET("/events", h.handleEventStream)
	}
}

// AuthRequired 供其它路由（如 /ws/stats）复用的鉴权中间件
func (h *Handlers) AuthRequired() gin.HandlerFunc { return h.authRequired }

// Auth Module
func (h *Handlers) registerAuthRoutes(r *gin.RouterGroup) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       h.opts.AuthRate,
		Identifier: "ip+route",
		AddHeaders: true,
	}, h.opts.LimiterStore).WithObserver(middleware.MetricsAdapter{M: h.opts.Metrics})

	auth := r.Group("auth")
	{
		auth.POST("/register", rl.Middleware(), h.handleRegister)

		auth.POST("/login", rl.Middleware(), middleware.ClientInfoMiddleware(), h.handleLogin)

		auth.POST("/refresh", rl.Middleware(), h.handleRefresh)

		auth.POST("/logout", h.authRequired, h.handleLogout)

		auth.GET("/me", h.authRequired, h.handleMe)
	}
}

func (h *Handlers) registerUserRoutes(r *gin.RouterGroup) {
	users := r.Group("users")
	{
		users.PUT("/me", h.handleUpdateProfile)

		users.PUT("/me/privacy", h.handleUpdatePrivacy)

		users.PUT("/me/location", h.handleUpdateLocation)

		users.PUT("/me/push-token", h.handleUpdatePushToken)
	}
}

func (h *Handlers) registerCircleRoutes(r *gin.RouterGroup) {
	circles := r.Group("circles")
	{
		circles.GET("", h.handleListCircles)

		circles.POST("", h.handleCreateCircle)

		circles.POST("/join", h.handleJoinCircle)

		circles.GET("/:id", h.handleGetCircle)

		circles.PUT("/:id", h.handleUpdateCircle)

		circles.DELETE("/:id", h.handleDeleteCircle)

		circles.GET("/:id/members", h.handleListMembers)

		circles.POST("/:id/invite", h.handleInvite)

		circles.POST("/:id/invites/accept", h.handleAcceptInvite)

		circles.POST("/:id/leave", h.handleLeaveCircle)

		circles.DELETE("/:id/members/:userId", h.handleRemoveMember)

		circles.PUT("/:id/members/:userId/role", h.handleUpdateMemberRole)

		circles.POST("/:id/invite-code", h.handleRegenerateInviteCode)
	}
}

func (h *Handlers) registerCheckInRoutes(r *gin.RouterGroup) {
	checkins := r.Group("checkins")
	{
		checkins.GET("", h.handleListCheckIns)

		checkins.GET("/active", h.handleListActiveCheckIns)

		checkins.GET("/overdue", h.handleListOverdueCheckIns)

		checkins.GET("/circle/:circleId", h.handleListCircleCheckIns)

		checkins.POST("", h.handleCreateCheckIn)

		checkins.GET("/:id", h.handleGetCheckIn)

		checkins.PUT("/:id/complete", h.handleCompleteCheckIn)

		checkins.PUT("/:id/cancel", h.handleCancelCheckIn)

		checkins.PUT("/:id/location", h.handleCheckInLocation)

		checkins.POST("/:id/acknowledge", h.handleAcknowledgeCheckIn)

		checkins.DELETE("/:id", h.handleDeleteCheckIn)
	}
}

func (h *Handlers) registerAlertRoutes(r *gin.RouterGroup) {
	alerts := r.Group("alerts")
	{
		alerts.GET("", h.handleListAlerts)

		alerts.GET("/circle/:circleId", h.handleListCircleAlerts)

		alerts.GET("/circle/:circleId/active", h.handleListActiveAlerts)

		alerts.GET("/circle/:circleId/stats", h.handleAlertStats)

		alerts.POST("", h.handleCreateAlert)

		alerts.GET("/:id", h.handleGetAlert)

		alerts.POST("/:id/acknowledge", h.handleAcknowledgeAlert)

		alerts.PUT("/:id/resolve", h.handleResolveAlert)

		alerts.PUT("/:id/cancel", h.handleCancelAlert)

		alerts.PUT("/:id/false-alarm", h.handleFalseAlarm)
	}
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("system")
	{
		system.GET("/health", h.HealthCheck)

		system.GET("/stats", h.authRequired, h.handleSystemStats)
	}
}

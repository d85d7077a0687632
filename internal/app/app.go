// Package app 组装进程内的全部组件：存储、业务服务、事件总线、实时通道、推送与定时扫描。
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	handlers "SafeCircle/internal/handler"
	"SafeCircle/internal/events"
	"SafeCircle/internal/listeners"
	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	"SafeCircle/pkg/backup"
	"SafeCircle/pkg/cache"
	"SafeCircle/pkg/clock"
	"SafeCircle/pkg/config"
	"SafeCircle/pkg/credential"
	"SafeCircle/pkg/i18n"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/notification"
	"SafeCircle/pkg/scheduler"
	"SafeCircle/pkg/sse"
	"SafeCircle/pkg/util"
	"SafeCircle/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	clock  clock.Clock
	pusher notification.Pusher
}

// Option 替换时钟或推送通道，主要给测试用
type Option func(*options)

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithPusher(p notification.Pusher) Option {
	return func(o *options) { o.pusher = p }
}

type App struct {
	cfg   *config.Config
	clock clock.Clock

	DB       *gorm.DB
	Services *services.Services
	Bus      *events.Bus
	Hub      *websocket.Hub
	Engine   *gin.Engine
	Metrics  *metrics.Metrics

	registry *prometheus.Registry
	redis    *redis.Client
	cache    cache.Cache
	relay    *websocket.ClusterRelay
	streams  *sse.Hub
	push     *listeners.PushListener
	cron     *scheduler.Cron
	ticker   *scheduler.Scheduler
}

// New 打开数据库并完成迁移，装配所有组件，但不启动后台任务
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN, o.clock.Now)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{cfg: cfg, clock: o.clock, DB: db, registry: prometheus.NewRegistry()}
	if err := models.AutoMigrate(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewMetrics(a.registry)

	if strings.EqualFold(cfg.CacheType, "redis") || cfg.WSEnableCluster {
		if a.redis, err = cache.NewRedisClient(a.redisConfig()); err != nil {
			a.Close()
			return nil, err
		}
	}
	if a.cache, err = a.newCache(); err != nil {
		a.Close()
		return nil, err
	}

	issuer, err := credential.NewIssuer(credential.Config{
		Secret:        cfg.JWTSecret,
		Issuer:        "safecircle",
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		RememberMeTTL: cfg.RememberMeTTL,
	}, o.clock)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Bus = events.NewBus()
	a.Services = services.New(services.Deps{
		DB:        db,
		Clock:     o.clock,
		Publisher: a.Bus,
		Issuer:    issuer,
		Cache:     a.cache,
		Metrics:   a.Metrics,
		Options: services.Options{
			MaxLoginAttempts: cfg.MaxLoginAttempts,
			LockDuration:     cfg.LockDuration,
		},
	})

	a.Hub = websocket.NewHub(&websocket.Config{
		MaxConnections:    int64(cfg.WSMaxConnections),
		HeartbeatInterval: cfg.WSHeartbeatInterval,
		ConnectionTimeout: cfg.WSConnectionTimeout,
		MessageRate:       cfg.WSMessageRate,
	})
	a.Hub.SetObserver(a.Metrics)
	a.Hub.SetGroupAuthorizer(a.authorizeGroup)
	a.Hub.SetPublishHook(syncMembership(a.Hub))
	a.Hub.HandleMessage(MessageTypeLocationUpdate, a.handleLocationUpdate)

	var channel events.Channel = a.Hub
	if cfg.WSEnableCluster {
		a.relay = websocket.NewClusterRelay(a.Hub, a.redis, cfg.WSClusterChannel)
		a.Hub.SetPresencePublisher(a.relay.Publish)
		channel = a.relay
	}

	a.streams = sse.NewHub(cfg.WSHeartbeatInterval)
	a.streams.SetPublishHook(syncMembership(a.streams))

	pusher := o.pusher
	if pusher == nil {
		if pusher, err = newPusher(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	tr, err := i18n.New(cfg.PushLanguage)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.push = listeners.NewPushListener(a.Services, pusher, a.Metrics, listeners.PushOptions{Translator: tr})

	// 先投递实时通道，推送监听器只入队
	if err := a.Bus.Subscribe("channel", events.NewChannelSink(channel)); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.Bus.Subscribe("push", a.push); err != nil {
		a.Close()
		return nil, err
	}
	// SSE 只投递本节点产生的事件
	if err := a.Bus.Subscribe("stream", events.NewChannelSink(a.streams)); err != nil {
		a.Close()
		return nil, err
	}

	a.Engine = a.routes()
	return a, nil
}

func (a *App) redisConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Addr:         a.cfg.RedisAddr,
		Password:     a.cfg.RedisPassword,
		DB:           a.cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "safecircle:",
	}
}

// newCache redis 模式下本地 LRU 做一级缓存
func (a *App) newCache() (cache.Cache, error) {
	if a.redis != nil && strings.EqualFold(a.cfg.CacheType, "redis") {
		distributed := cache.NewRedisCacheWithClient(a.redis, a.redisConfig())
		return cache.NewLayeredCache(cache.NewLocalCache(cache.LocalConfig{}), distributed, cache.DefaultOptions()), nil
	}
	return cache.NewCache(cache.Config{Type: a.cfg.CacheType})
}

func (a *App) limiterStore() limiter.Store {
	if a.redis == nil {
		return nil
	}
	store, err := sredis.NewStoreWithOptions(a.redis, limiter.StoreOptions{
		Prefix:   "safecircle:limiter",
		MaxRetry: 3,
	})
	if err != nil {
		logger.Warn("redis limiter store unavailable, falling back to memory", zap.Error(err))
		return nil
	}
	return store
}

func newPusher(ctx context.Context, cfg *config.Config) (notification.Pusher, error) {
	if cfg.FCMProjectID == "" && cfg.FCMCredentialsFile == "" {
		logger.Info("push notifications disabled, using log pusher")
		return notification.LogPusher{}, nil
	}
	return notification.NewFCMPusher(ctx, notification.FCMConfig{
		ProjectID:       cfg.FCMProjectID,
		CredentialsFile: cfg.FCMCredentialsFile,
	})
}

func (a *App) routes() *gin.Engine {
	switch a.cfg.Mode {
	case "production", "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), metrics.MonitorMiddleware(a.Metrics))

	h := handlers.NewHandlers(a.DB, a.Services, handlers.Options{
		APIPrefix:        a.cfg.APIPrefix,
		AuthRate:         a.cfg.RateLimitAuth,
		LimiterStore:     a.limiterStore(),
		IdempotencyStore: a.cache,
		Metrics:          a.Metrics,
		Gatherer:         a.registry,
		Streams:          a.streams,
	})
	h.Register(engine)

	websocket.RegisterRoutes(engine, websocket.NewHandler(a.Hub, wsAuthenticator{svc: a.Services}), h.AuthRequired())
	return engine
}

// Start 启动集群中继和定时扫描
func (a *App) Start(ctx context.Context) error {
	if a.relay != nil {
		if err := a.relay.Start(ctx); err != nil {
			return err
		}
	}

	a.cron = scheduler.NewCron(time.UTC)
	if _, err := a.cron.Add(a.cfg.EscalationSchedule, a.Services.EscalationJob()); err != nil {
		return fmt.Errorf("escalation schedule %q: %w", a.cfg.EscalationSchedule, err)
	}
	if a.cfg.BackupSchedule != "" {
		if _, err := a.cron.AddFunc(a.cfg.BackupSchedule, a.backup); err != nil {
			return fmt.Errorf("backup schedule %q: %w", a.cfg.BackupSchedule, err)
		}
	}
	a.cron.Start()

	a.ticker = scheduler.New()
	if a.cfg.OverdueInterval > 0 {
		a.ticker.Every(a.cfg.OverdueInterval, a.Services.OverdueJob())
	}
	logger.Info("sweeps scheduled",
		zap.String("escalation", a.cfg.EscalationSchedule),
		zap.Duration("overdue", a.cfg.OverdueInterval),
	)
	return nil
}

func (a *App) backup(ctx context.Context) {
	if _, err := a.Backup(ctx); err != nil {
		logger.Warn("scheduled backup failed", zap.Error(err))
	}
}

// Backup 立即导出一份数据库快照
func (a *App) Backup(ctx context.Context) (string, error) {
	cfg, err := a.cfg.BackupConfig()
	if err != nil {
		return "", err
	}
	return backup.Run(ctx, a.DB, cfg, a.clock.Now())
}

// Serve 监听 HTTP，ctx 取消后优雅退出
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", a.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close 先停扫描和总线，等待推送排空，再关闭连接与存储
func (a *App) Close() {
	if a.cron != nil {
		a.cron.Stop()
	}
	if a.ticker != nil {
		a.ticker.Stop()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.push != nil {
		_ = a.push.Close()
	}
	if a.relay != nil {
		_ = a.relay.Close()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.streams != nil {
		a.streams.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// Package services 生命周期引擎：鉴权、状态迁移、乐观锁持久化，提交后发布事件。
package services

import (
	"context"
	"errors"
	"time"

	"SafeCircle/internal/events"
	"SafeCircle/internal/models"
	"SafeCircle/pkg/cache"
	"SafeCircle/pkg/clock"
	"SafeCircle/pkg/credential"
	apperr "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAttempts 乐观锁冲突时的重试上限
const maxAttempts = 10

// Options 可调参数
type Options struct {
	MaxLoginAttempts int
	LockDuration     time.Duration
	IdentityTTL      time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxLoginAttempts <= 0 {
		o.MaxLoginAttempts = 5
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 2 * time.Hour
	}
	if o.IdentityTTL <= 0 {
		o.IdentityTTL = 5 * time.Minute
	}
	return o
}

// Deps 外部依赖，Publisher/Cache/Metrics 可为空
type Deps struct {
	DB        *gorm.DB
	Clock     clock.Clock
	Publisher events.Publisher
	Issuer    *credential.Issuer
	Cache     cache.Cache
	Metrics   *metrics.Metrics
	Options   Options
}

type Services struct {
	Users      *UserService
	Auth       *AuthService
	Circles    *CircleService
	CheckIns   *CheckInService
	Alerts     *AlertService
	Identities *IdentityCache
}

func New(d Deps) *Services {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop
	}
	if d.Cache == nil {
		d.Cache = cache.NewLocalCache(cache.LocalConfig{})
	}
	d.Options = d.Options.withDefaults()

	b := &base{
		db:      d.DB,
		clock:   d.Clock,
		pub:     d.Publisher,
		metrics: d.Metrics,
	}
	b.identities = NewIdentityCache(d.DB, d.Cache, d.Options.IdentityTTL, d.Metrics)

	return &Services{
		Users:      &UserService{base: b},
		Auth:       &AuthService{base: b, issuer: d.Issuer, opts: d.Options},
		Circles:    &CircleService{base: b},
		CheckIns:   &CheckInService{base: b},
		Alerts:     &AlertService{base: b},
		Identities: b.identities,
	}
}

// base 各服务共享的依赖
type base struct {
	db         *gorm.DB
	clock      clock.Clock
	pub        events.Publisher
	metrics    *metrics.Metrics
	identities *IdentityCache
}

func (b *base) now() time.Time { return b.clock.Now() }

func (b *base) conn(ctx context.Context) *gorm.DB { return b.db.WithContext(ctx) }

func (b *base) publish(evs ...events.Event) {
	for _, ev := range evs {
		b.pub.Publish(ev)
	}
}

// retry 在版本冲突时重新执行整个读改写
func (b *base) retry(entity string, fn func() error) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if !errors.Is(err, models.ErrVersionConflict) {
			return err
		}
		b.metrics.RecordVersionConflict(entity)
		logger.Debug("version conflict, retrying", zap.String("entity", entity), zap.Int("attempt", attempt))
	}
	return apperr.Conflict("%s was modified concurrently, please retry", entity)
}

// transact 在事务中执行，冲突时重试
func (b *base) transact(ctx context.Context, entity string, fn func(tx *gorm.DB) error) error {
	return b.retry(entity, func() error {
		return b.conn(ctx).Transaction(fn)
	})
}

// dbError 把存储层错误翻译为对外错误
func dbError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("%s not found", what)
	}
	if _, ok := apperr.As(err); ok || errors.Is(err, models.ErrVersionConflict) {
		return err
	}
	return apperr.Server(err)
}

func loadUser(tx *gorm.DB, id string) (*models.User, error) {
	u, err := models.GetUserByID(tx, id)
	if err != nil {
		return nil, dbError(err, "user")
	}
	return u, nil
}

func loadCircle(tx *gorm.DB, id string) (*models.Circle, error) {
	c, err := models.GetCircleByID(tx, id)
	if err != nil {
		return nil, dbError(err, "circle")
	}
	return c, nil
}

// loadCircleForMember 圈子存在且调用者是当前活跃成员
func loadCircleForMember(tx *gorm.DB, circleID, userID string) (*models.Circle, error) {
	c, err := loadCircle(tx, circleID)
	if err != nil {
		return nil, err
	}
	if !c.IsMember(userID) {
		return nil, apperr.Authorization("you are not a member of this circle")
	}
	return c, nil
}

func loadCircleForAdmin(tx *gorm.DB, circleID, userID string) (*models.Circle, error) {
	c, err := loadCircle(tx, circleID)
	if err != nil {
		return nil, err
	}
	if !c.IsAdmin(userID) {
		return nil, apperr.Authorization("only circle admins can perform this action")
	}
	return c, nil
}

func save(tx *gorm.DB, m models.Versioned, now time.Time) error {
	if err := models.UpdateVersioned(tx, m, now); err != nil {
		return dbError(err, "record")
	}
	return nil
}

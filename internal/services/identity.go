package services

import (
	"context"
	"time"

	"SafeCircle/internal/models"
	"SafeCircle/pkg/cache"
	"SafeCircle/pkg/metrics"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

const identityCacheName = "identity"

// IdentityCache 事件负载中的公开身份，读多写少
type IdentityCache struct {
	db      *gorm.DB
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewIdentityCache(db *gorm.DB, c cache.Cache, ttl time.Duration, m *metrics.Metrics) *IdentityCache {
	return &IdentityCache{db: db, cache: c, ttl: ttl, metrics: m}
}

func identityKey(userID string) string { return "identity:" + userID }

// Get 缓存未命中时回源；用户不存在时只返回 id
func (ic *IdentityCache) Get(ctx context.Context, userID string) models.PublicIdentity {
	if v, ok := ic.cache.Get(ctx, identityKey(userID)); ok {
		if id, ok := decodeIdentity(v); ok {
			ic.metrics.RecordCacheHit(identityCacheName)
			return id
		}
	}
	ic.metrics.RecordCacheMiss(identityCacheName)

	u, err := models.GetUserByID(ic.db.WithContext(ctx), userID)
	if err != nil {
		return models.PublicIdentity{ID: userID}
	}
	id := u.Public()
	_ = ic.cache.Set(ctx, identityKey(userID), id, ic.ttl)
	return id
}

func (ic *IdentityCache) Invalidate(ctx context.Context, userID string) {
	_ = ic.cache.Delete(ctx, identityKey(userID))
}

// decodeIdentity 本地缓存存结构体，redis 取回的是 map
func decodeIdentity(v interface{}) (models.PublicIdentity, bool) {
	switch val := v.(type) {
	case models.PublicIdentity:
		return val, true
	case *models.PublicIdentity:
		if val == nil {
			return models.PublicIdentity{}, false
		}
		return *val, true
	case map[string]interface{}:
		id := models.PublicIdentity{
			ID:     cast.ToString(val["id"]),
			Name:   cast.ToString(val["name"]),
			Avatar: cast.ToString(val["avatar"]),
		}
		return id, id.ID != ""
	}
	return models.PublicIdentity{}, false
}

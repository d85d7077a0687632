package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// localCache 基于 expirable LRU 的进程内缓存，支持单键过期时间
type localCache struct {
	config LocalConfig
	lru    *expirable.LRU[string, localItem]
	mu     sync.Mutex
}

type localItem struct {
	value     interface{}
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
func NewLocalCache(config LocalConfig) Cache {
	config = config.withDefaults()
	return &localCache{
		config: config,
		// LRU 的全局 TTL 兜底，单键 TTL 在读取时判断
		lru: expirable.NewLRU[string, localItem](config.MaxSize, nil, config.DefaultExpiration),
	}
}

func (lc *localCache) Get(ctx context.Context, key string) (interface{}, bool) {
	item, ok := lc.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		lc.lru.Remove(key)
		return nil, false
	}
	return item.value, true
}

func (lc *localCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	lc.lru.Add(key, lc.item(value, expiration))
	return nil
}

func (lc *localCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if _, exists := lc.Get(ctx, key); exists {
		return false, nil
	}
	lc.lru.Add(key, lc.item(value, expiration))
	return true, nil
}

func (lc *localCache) item(value interface{}, expiration time.Duration) localItem {
	if expiration <= 0 {
		expiration = lc.config.DefaultExpiration
	}
	return localItem{value: value, expiresAt: time.Now().Add(expiration)}
}

func (lc *localCache) Delete(ctx context.Context, key string) error {
	lc.lru.Remove(key)
	return nil
}

func (lc *localCache) Exists(ctx context.Context, key string) bool {
	_, ok := lc.Get(ctx, key)
	return ok
}

func (lc *localCache) Clear(ctx context.Context) error {
	lc.lru.Purge()
	return nil
}

func (lc *localCache) Close() error {
	lc.lru.Purge()
	return nil
}

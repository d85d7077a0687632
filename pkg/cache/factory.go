package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options 分层缓存选项
type Options struct {
	// 一级缓存的过期时间，其它节点的写入最多延迟这么久可见
	LocalExpiration time.Duration
}

func DefaultOptions() *Options {
	return &Options{LocalExpiration: 30 * time.Second}
}

// NewCache 按 CACHE_TYPE 创建单层缓存；redis 的分层组合由调用方完成
func NewCache(config Config) (Cache, error) {
	switch strings.ToLower(config.Type) {
	case "", "local":
		return NewLocalCache(config.Local), nil
	case "gocache":
		return NewGoCache(config.Local), nil
	case "redis":
		return NewRedisCache(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}

// NewLayeredCache 创建分层缓存（本地缓存 + 分布式缓存）
func NewLayeredCache(local, distributed Cache, options *Options) Cache {
	if options == nil {
		options = DefaultOptions()
	}
	return &layeredCache{
		local:       local,
		distributed: distributed,
		options:     options,
	}
}

// layeredCache 分层缓存实现
type layeredCache struct {
	local       Cache
	distributed Cache
	options     *Options
}

// Get 从本地缓存获取，如果没有则从分布式缓存获取并回填本地缓存
func (lc *layeredCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if value, exists := lc.local.Get(ctx, key); exists {
		return value, true
	}

	if value, exists := lc.distributed.Get(ctx, key); exists {
		_ = lc.local.Set(ctx, key, value, lc.options.LocalExpiration)
		return value, true
	}

	return nil, false
}

// Set 同时设置到本地和分布式缓存
func (lc *layeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.distributed.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.local.Set(ctx, key, value, lc.localTTL(expiration))
}

// SetNX 以分布式缓存的结果为准
func (lc *layeredCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := lc.distributed.SetNX(ctx, key, value, expiration)
	if err != nil || !ok {
		return ok, err
	}
	return true, lc.local.Set(ctx, key, value, lc.localTTL(expiration))
}

// localTTL 一级缓存不能比二级缓存活得更久
func (lc *layeredCache) localTTL(expiration time.Duration) time.Duration {
	if expiration > 0 && expiration < lc.options.LocalExpiration {
		return expiration
	}
	return lc.options.LocalExpiration
}

// Delete 从两个缓存层删除
func (lc *layeredCache) Delete(ctx context.Context, key string) error {
	if err := lc.local.Delete(ctx, key); err != nil {
		return err
	}
	return lc.distributed.Delete(ctx, key)
}

// Exists 检查键是否存在
func (lc *layeredCache) Exists(ctx context.Context, key string) bool {
	return lc.local.Exists(ctx, key) || lc.distributed.Exists(ctx, key)
}

// Clear 清空两个缓存层
func (lc *layeredCache) Clear(ctx context.Context) error {
	if err := lc.local.Clear(ctx); err != nil {
		return err
	}
	return lc.distributed.Clear(ctx)
}

// Close 关闭缓存连接
func (lc *layeredCache) Close() error {
	if err := lc.local.Close(); err != nil {
		return err
	}
	return lc.distributed.Close()
}

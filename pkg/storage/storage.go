// Package storage 对象存储，目前用于把数据库快照传到异地。
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("storage: object not found")

// Store 按 key 存取对象
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// List 返回前缀下的 key，按字典序
	List(ctx context.Context, prefix string) ([]string, error)
}

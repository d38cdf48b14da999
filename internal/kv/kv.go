// Package kv is the durable key → text storage behind the persistent stores.
// Values are opaque strings (the stores serialise JSON into them); there are
// no transactions and no multi-key operations.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// Storage 是按精确 key 读写文本的持久化存储。
type Storage interface {
	// Get 返回 key 对应的值；不存在时 ok 为 false 且 err 为 nil。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Delete 删除 key，不存在时视为成功。
	Delete(ctx context.Context, key string) error
	Close() error
}

// 支持的后端名称，与配置中的 StateBackend 对应。
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrInvalidKey 表示 key 为空。
var ErrInvalidKey = errors.New("invalid storage key")

// Open 根据后端名称构建 Storage。file 后端的 path 为目录，sqlite 后端为数据库文件。
func Open(backend, path string) (Storage, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStorage(path)
	case BackendSQLite:
		return NewSQLiteStorage(path)
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", backend)
	}
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Storage 管理所有缓存代数：按名称打开、枚举与删除。
type Storage interface {
	// Open 打开（必要时创建）指定名称的缓存代数。
	Open(ctx context.Context, name string) (Generation, error)

	// Names 返回当前存在的全部代数名称，按字典序排列。
	Names(ctx context.Context) ([]string, error)

	// Delete 删除整个代数及其所有条目，不存在时视为成功。
	Delete(ctx context.Context, name string) error

	// Close 释放底层资源。
	Close() error
}

// Generation 是单个缓存代数：请求标识 → 最近一次写入的响应。
type Generation interface {
	Name() string

	// Match 精确匹配请求标识，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key RequestKey) (*Response, error)

	// Put 写入响应副本，同一 key 后写覆盖先写。
	Put(ctx context.Context, key RequestKey, resp *Response) error
}

// RequestKey 唯一定位一个缓存条目（Method + 完整 URL）。
type RequestKey struct {
	Method string
	URL    string
}

// String 返回 "GET https://..." 形式，作为条目哈希与日志的输入。
func (k RequestKey) String() string {
	return strings.ToUpper(k.Method) + " " + k.URL
}

// Response 是可重复读取的响应快照，Body 完整驻留内存以支持 Clone。
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

// OK 与 fetch 语义一致：2xx 视为成功。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone 深拷贝响应，写入缓存与返回调用方互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		StoredAt: r.StoredAt,
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return cloned
}

// 支持的后端名称，与配置中的 CacheBackend 对应。
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// Open 根据后端名称构建 Storage。sqlite 后端的 path 指向目录，数据库文件位于其下。
func Open(backend, path string) (Storage, error) {
	switch backend {
	case "", BackendFS:
		return NewFSStorage(path)
	case BackendSQLite:
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", backend)
	}
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示代数名称不能安全地映射到存储位置。
	ErrInvalidName = errors.New("invalid cache generation name")
)

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

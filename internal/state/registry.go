// Package state hosts the configured start-page data domains, one persistent
// store per [[State]] table, and exposes them by name to the HTTP layer.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/sirupsen/logrus"

	"github.com/PXR05/ctrlt/internal/config"
	"github.com/PXR05/ctrlt/internal/kv"
	"github.com/PXR05/ctrlt/internal/logging"
	"github.com/PXR05/ctrlt/internal/store"
)

// ErrUnknownDomain 表示请求的状态域未在配置中声明。
var ErrUnknownDomain = errors.New("unknown state domain")

// Domain 是单个状态域，值以解码后的 JSON 形式保存。
type Domain struct {
	name     string
	schema   *jsonschema.Resolved
	maxItems int
	store    *store.Store[any]
}

// Name 返回状态域名称。
func (d *Domain) Name() string { return d.name }

// Key 返回持久化 key。
func (d *Domain) Key() string { return d.store.Key() }

// MaxItems 返回序列上限，0 表示不限制。
func (d *Domain) MaxItems() int { return d.maxItems }

// Initialized 报告是否已从持久化存储加载。
func (d *Domain) Initialized() bool { return d.store.Initialized() }

// Value 返回当前值。
func (d *Domain) Value() any { return d.store.Data() }

// Set 解析并校验 JSON 文本后替换当前值，校验失败返回 store.ErrValidation。
func (d *Domain) Set(raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if d.schema != nil {
		if err := d.schema.Validate(value); err != nil {
			return fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
	}
	d.store.SetData(value)
	return nil
}

// Reset 恢复默认值。
func (d *Domain) Reset() { d.store.Reset() }

// Clear 删除持久化条目并恢复默认值。
func (d *Domain) Clear(ctx context.Context) error { return d.store.Clear(ctx) }

// Registry 按名称持有全部状态域。
type Registry struct {
	domains map[string]*Domain
	logger  *logrus.Entry
}

// NewRegistry 为每个 StateConfig 构建一个 Store。storage 为 nil 时全部状态只驻留内存。
func NewRegistry(storage kv.Storage, states []config.StateConfig, debounce time.Duration, logger *logrus.Logger) (*Registry, error) {
	reg := &Registry{
		domains: make(map[string]*Domain, len(states)),
		logger:  logging.Component(logger, "state"),
	}
	for _, st := range states {
		if _, exists := reg.domains[st.Name]; exists {
			return nil, fmt.Errorf("duplicate state domain: %s", st.Name)
		}
		schema, err := Schema(st.Schema)
		if err != nil {
			return nil, fmt.Errorf("state %s: %w", st.Name, err)
		}
		def, err := decodeDefault(st.Default)
		if err != nil {
			return nil, fmt.Errorf("state %s default: %w", st.Name, err)
		}

		opts := []store.Option{
			store.WithMaxItems(st.MaxItems),
			store.WithDebounce(debounce),
			store.WithLogger(logger),
		}
		if schema != nil {
			opts = append(opts, store.WithSchema(schema))
		}
		reg.domains[st.Name] = &Domain{
			name:     st.Name,
			schema:   schema,
			maxItems: st.MaxItems,
			store:    store.New(st.Key, def, storage, opts...),
		}
	}
	return reg, nil
}

func decodeDefault(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Initialize 加载全部状态域。
func (r *Registry) Initialize(ctx context.Context) {
	for _, name := range r.Names() {
		d := r.domains[name]
		d.store.Initialize(ctx)
		r.logger.WithFields(logging.StoreFields("state_initialize", d.Key())).
			WithField("initialized", d.Initialized()).Debug("state_loaded")
	}
}

// Get 按名称查找状态域。
func (r *Registry) Get(name string) (*Domain, error) {
	d, ok := r.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	return d, nil
}

// Names 返回排序后的状态域名称。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close 提交每个状态域的待写入，返回合并后的错误。
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.domains[name].store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("state %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

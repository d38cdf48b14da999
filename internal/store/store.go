package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/sirupsen/logrus"

	"github.com/PXR05/ctrlt/internal/kv"
	"github.com/PXR05/ctrlt/internal/logging"
)

// DefaultDebounce 是未显式配置时的写入合并窗口。
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrStorageRead 表示持久化值无法读取或不是合法的序列化文本。
	ErrStorageRead = errors.New("storage read failed")
	// ErrValidation 表示持久化值可解析但不满足 schema。
	ErrValidation = errors.New("stored value failed validation")
	// ErrStorageWrite 表示序列化或写入持久化存储失败。
	ErrStorageWrite = errors.New("storage write failed")
)

type options struct {
	schema   *jsonschema.Resolved
	maxItems int
	debounce time.Duration
	logger   *logrus.Entry
}

// Option 调整 Store 的可选行为。
type Option func(*options)

// WithSchema 在加载时用 JSON Schema 校验持久化值。
func WithSchema(schema *jsonschema.Resolved) Option {
	return func(o *options) { o.schema = schema }
}

// WithMaxItems 限制序列类型值的元素个数，n <= 0 表示不限制。
func WithMaxItems(n int) Option {
	return func(o *options) { o.maxItems = n }
}

// WithDebounce 设置写入合并窗口。
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithLogger 注入结构化日志。
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logging.Component(logger, "store") }
}

// Store 持有一个逻辑值，并在合并窗口结束后把它写回持久化存储。
type Store[T any] struct {
	key      string
	def      T
	storage  kv.Storage
	schema   *jsonschema.Resolved
	maxItems int
	debounce time.Duration
	logger   *logrus.Entry

	mu          sync.Mutex
	data        T
	initialized bool
	closed      bool
	timer       *time.Timer
	pending     *pendingWrite[T]
	seq         uint64

	// writeMu 串行化真正的落盘动作，committed 记录最近一次落盘的序号。
	// 加锁顺序为 mu 先于 writeMu。
	writeMu   sync.Mutex
	committed uint64
}

type pendingWrite[T any] struct {
	value T
	seq   uint64
}

// New 构造 Store。storage 为 nil 表示当前上下文不具备持久化能力：
// Initialize 为空操作，所有写入仅作用于内存。
func New[T any](key string, defaultValue T, storage kv.Storage, opts ...Option) *Store[T] {
	o := options{debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Component(nil, "store")
	}
	if o.debounce < 0 {
		o.debounce = 0
	}
	return &Store[T]{
		key:      key,
		def:      defaultValue,
		storage:  storage,
		schema:   o.schema,
		maxItems: o.maxItems,
		debounce: o.debounce,
		logger:   o.logger,
		data:     defaultValue,
	}
}

// Key 返回持久化 key。
func (s *Store[T]) Key() string { return s.key }

// Data 返回当前内存值。
func (s *Store[T]) Data() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Initialized 报告是否已完成首次加载。
func (s *Store[T]) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Initialize 从持久化存储加载一次。重复调用或没有存储时为空操作。
// 读取失败、格式损坏、校验失败都回退到默认值，原始条目保持不动。
func (s *Store[T]) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized || s.storage == nil {
		return
	}
	s.data = s.load(ctx)
	s.initialized = true
}

func (s *Store[T]) load(ctx context.Context) T {
	raw, ok, err := s.storage.Get(ctx, s.key)
	if err != nil {
		s.logger.WithError(fmt.Errorf("%w: %v", ErrStorageRead, err)).
			WithFields(logging.StoreFields("store_load", s.key)).Warn("storage_read_failed")
		return s.def
	}
	if !ok || raw == "" {
		return s.def
	}

	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		s.logger.WithError(fmt.Errorf("%w: %v", ErrStorageRead, err)).
			WithFields(logging.StoreFields("store_load", s.key)).Warn("stored_value_malformed")
		return s.def
	}
	if s.schema != nil {
		if err := s.schema.Validate(generic); err != nil {
			s.logger.WithError(fmt.Errorf("%w: %v", ErrValidation, err)).
				WithFields(logging.StoreFields("store_load", s.key)).Warn("stored_value_invalid")
			return s.def
		}
	}

	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		s.logger.WithError(fmt.Errorf("%w: %v", ErrValidation, err)).
			WithFields(logging.StoreFields("store_load", s.key)).Warn("stored_value_invalid")
		return s.def
	}
	// 加载时保留最前面的 maxItems 个元素，与写入时保留最新的规则不同。
	return truncate(value, s.maxItems, false)
}

// SetData 无条件替换内存值；已初始化时安排一次合并写入，未初始化时不写，
// 防止默认值在首次加载前覆盖持久化内容。
func (s *Store[T]) SetData(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(value)
}

// UpdateData 等价于 SetData(fn(当前值))。fn 在锁内执行，不能再调用 Store。
func (s *Store[T]) UpdateData(fn func(current T) T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(fn(s.data))
}

// Reset 等价于 SetData(默认值)。
func (s *Store[T]) Reset() {
	s.SetData(s.def)
}

// Clear 删除持久化条目并把内存值重置为默认值。
func (s *Store[T]) Clear(ctx context.Context) error {
	var err error
	if s.storage != nil {
		if delErr := s.storage.Delete(ctx, s.key); delErr != nil {
			err = fmt.Errorf("%w: %v", ErrStorageWrite, delErr)
			s.logger.WithError(err).WithFields(logging.StoreFields("store_clear", s.key)).Error("storage_delete_failed")
		}
	}
	s.Reset()
	return err
}

func (s *Store[T]) setLocked(value T) {
	s.data = value
	if !s.initialized || s.closed || s.storage == nil {
		return
	}
	s.seq++
	s.pending = &pendingWrite[T]{value: value, seq: s.seq}
	if s.timer != nil {
		s.timer.Stop()
	}
	seq := s.seq
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(seq) })
}

func (s *Store[T]) fire(seq uint64) {
	s.mu.Lock()
	p := s.pending
	if p == nil || p.seq != seq {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.timer = nil
	// 释放 mu 之前拿到 writeMu，Flush 与 Close 才能看到这次落盘。
	s.writeMu.Lock()
	s.mu.Unlock()

	defer s.writeMu.Unlock()
	_ = s.commitLocked(context.Background(), p)
}

// Flush 立即提交尚未落盘的写入，并等待计时器已触发的落盘完成。
func (s *Store[T]) Flush(ctx context.Context) error {
	s.mu.Lock()
	p := s.takePendingLocked()
	s.mu.Unlock()
	return s.drain(ctx, p)
}

// Close 提交待写入并停止后续落盘，之后的 SetData 只修改内存。
// 返回时不再有进行中的写入，调用方可以安全关闭底层存储。
func (s *Store[T]) Close(ctx context.Context) error {
	s.mu.Lock()
	p := s.takePendingLocked()
	s.closed = true
	s.mu.Unlock()
	return s.drain(ctx, p)
}

func (s *Store[T]) drain(ctx context.Context, p *pendingWrite[T]) error {
	if p != nil {
		return s.commit(ctx, p)
	}
	s.writeMu.Lock()
	s.writeMu.Unlock()
	return nil
}

func (s *Store[T]) takePendingLocked() *pendingWrite[T] {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	p := s.pending
	s.pending = nil
	return p
}

func (s *Store[T]) commit(ctx context.Context, p *pendingWrite[T]) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.commitLocked(ctx, p)
}

func (s *Store[T]) commitLocked(ctx context.Context, p *pendingWrite[T]) error {
	// 更新的写入已经落盘时丢弃旧值，保证最后一次 set 生效。
	if p.seq < s.committed {
		return nil
	}

	value := truncate(p.value, s.maxItems, true)
	encoded, err := json.Marshal(value)
	if err == nil {
		err = s.storage.Set(ctx, s.key, string(encoded))
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrStorageWrite, err)
		s.logger.WithError(err).WithFields(logging.StoreFields("store_save", s.key)).Error("storage_write_failed")
		return err
	}
	s.committed = p.seq
	return nil
}

// truncate 对切片类型的值施加 maxItems 上限。keepNewest 为 true 时保留末尾元素。
// []byte 序列化为字符串而非数组，不视为序列。
func truncate[T any](value T, maxItems int, keepNewest bool) T {
	if maxItems <= 0 {
		return value
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return value
	}
	n := rv.Len()
	if n <= maxItems {
		return value
	}
	var out reflect.Value
	if keepNewest {
		out = rv.Slice(n-maxItems, n)
	} else {
		out = rv.Slice(0, maxItems)
	}
	result, ok := out.Interface().(T)
	if !ok {
		return value
	}
	return result
}

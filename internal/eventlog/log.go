// Package eventlog records outbound search, navigation and shortcut events
// on top of the persistent store. Unlike other store domains every append is
// written through immediately instead of waiting for the debounce window.
package eventlog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PXR05/ctrlt/internal/kv"
	"github.com/PXR05/ctrlt/internal/logging"
	"github.com/PXR05/ctrlt/internal/store"
)

const (
	// StorageKey 是事件列表的持久化 key。
	StorageKey = "ctrlt.outbound"
	// DefaultMaxEvents 是保留事件数上限。
	DefaultMaxEvents = 1000
	// DefaultRecentLimit 是 RecentEvents 未指定数量时的返回条数。
	DefaultRecentLimit = 50
)

var (
	// ErrUnknownType 表示事件类别不在 search/navigation/shortcut 之内。
	ErrUnknownType = errors.New("unknown event type")
	// ErrNotLoaded 表示在 Load 之前记录事件。
	ErrNotLoaded = errors.New("event log not loaded")
)

// Option 调整 Log 的可选行为。
type Option func(*Log)

// WithMaxEvents 设置保留上限，n <= 0 时使用 DefaultMaxEvents。
func WithMaxEvents(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.max = n
		}
	}
}

// WithClock 替换时间来源，测试用。
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger 注入结构化日志。
func WithLogger(logger *logrus.Logger) Option {
	return func(l *Log) { l.base = logger }
}

// Log 是有上限的出站事件日志。
type Log struct {
	max  int
	now  func() time.Time
	base *logrus.Logger

	logger *logrus.Entry
	events *store.Store[[]Event]

	// mu 串行化 追加 + 落盘，保证持久化顺序与追加顺序一致。
	mu     sync.Mutex
	loaded bool
}

// New 构建事件日志。storage 为 nil 时事件只保留在内存中。
func New(storage kv.Storage, opts ...Option) *Log {
	l := &Log{max: DefaultMaxEvents, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.Component(l.base, "eventlog")

	storeOpts := []store.Option{store.WithLogger(l.base)}
	if schema, err := store.CompileSchema(eventsSchema); err == nil {
		storeOpts = append(storeOpts, store.WithSchema(schema))
	} else {
		l.logger.WithError(err).WithField("action", "eventlog_init").Warn("event_schema_unavailable")
	}
	// 上限由 Log 自己维护：加载时保留最新的事件，而不是通用存储的前 N 个。
	l.events = store.New(StorageKey, []Event{}, storage, storeOpts...)
	return l
}

// Load 读取持久化事件；超过上限时只保留最新的 max 条并立即回写。
func (l *Log) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}
	l.events.Initialize(ctx)
	l.loaded = true

	current := l.events.Data()
	if len(current) <= l.max {
		return nil
	}
	l.events.SetData(l.trim(current))
	l.logger.WithFields(logrus.Fields{
		"action":  "eventlog_load",
		"dropped": len(current) - l.max,
	}).Info("event_log_trimmed")
	return l.events.Flush(ctx)
}

// Track 追加一条事件并同步落盘。写入失败时事件仍保留在内存中，
// 返回的错误包装 store.ErrStorageWrite。
func (l *Log) Track(ctx context.Context, kind Type, url string, meta Metadata) (Event, error) {
	if _, err := ParseType(string(kind)); err != nil {
		return Event{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		return Event{}, ErrNotLoaded
	}

	event := Event{
		ID:        uuid.NewString(),
		URL:       url,
		Timestamp: l.now().UnixMilli(),
		Type:      kind,
		Metadata:  meta,
	}
	l.events.UpdateData(func(current []Event) []Event {
		next := make([]Event, 0, len(current)+1)
		next = append(next, current...)
		next = append(next, event)
		return l.trim(next)
	})
	return event, l.events.Flush(ctx)
}

// TrackSearch 记录一次搜索跳转。
func (l *Log) TrackSearch(ctx context.Context, url, query, engine string, meta Metadata) (Event, error) {
	meta.Query = query
	meta.Engine = engine
	meta.ShortcutName = ""
	return l.Track(ctx, TypeSearch, url, meta)
}

// TrackNavigation 记录一次普通导航。
func (l *Log) TrackNavigation(ctx context.Context, url string, meta Metadata) (Event, error) {
	meta.Query, meta.Engine, meta.ShortcutName = "", "", ""
	return l.Track(ctx, TypeNavigation, url, meta)
}

// TrackShortcut 记录一次快捷方式点击。
func (l *Log) TrackShortcut(ctx context.Context, url, shortcutName string, meta Metadata) (Event, error) {
	meta.Query, meta.Engine = "", ""
	meta.ShortcutName = shortcutName
	return l.Track(ctx, TypeShortcut, url, meta)
}

// Events 返回全部事件的副本，按追加顺序排列。
func (l *Log) Events() []Event {
	current := l.events.Data()
	out := make([]Event, len(current))
	copy(out, current)
	return out
}

// EventsByType 返回指定类别的事件。
func (l *Log) EventsByType(kind Type) []Event {
	var out []Event
	for _, event := range l.events.Data() {
		if event.Type == kind {
			out = append(out, event)
		}
	}
	return out
}

// RecentEvents 返回最近 n 条事件，按时间正序；n <= 0 时取 DefaultRecentLimit。
func (l *Log) RecentEvents(n int) []Event {
	if n <= 0 {
		n = DefaultRecentLimit
	}
	current := l.events.Data()
	if len(current) > n {
		current = current[len(current)-n:]
	}
	out := make([]Event, len(current))
	copy(out, current)
	return out
}

// Stats 以调用时刻为基准统计 24 小时与 7 天窗口内的事件数。
func (l *Log) Stats() Stats {
	now := l.now().UnixMilli()
	dayAgo := now - (24 * time.Hour).Milliseconds()
	weekAgo := now - (7 * 24 * time.Hour).Milliseconds()

	stats := Stats{ByType: make(map[Type]int, len(Types))}
	for _, t := range Types {
		stats.ByType[t] = 0
	}
	for _, event := range l.events.Data() {
		stats.Total++
		if event.Timestamp > dayAgo {
			stats.Today++
		}
		if event.Timestamp > weekAgo {
			stats.ThisWeek++
		}
		stats.ByType[event.Type]++
	}
	return stats
}

// Clear 删除全部事件及其持久化条目。
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.events.Clear(ctx); err != nil {
		return err
	}
	return l.events.Flush(ctx)
}

// Close 提交未落盘的内容，之后的追加只修改内存。
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events.Close(ctx)
}

// Len 返回当前保留的事件数。
func (l *Log) Len() int {
	return len(l.events.Data())
}

func (l *Log) trim(events []Event) []Event {
	if len(events) <= l.max {
		return events
	}
	return events[len(events)-l.max:]
}

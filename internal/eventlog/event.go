package eventlog

import (
	"fmt"
	"time"
)

// Type 是出站事件的类别。
type Type string

const (
	TypeSearch     Type = "search"
	TypeNavigation Type = "navigation"
	TypeShortcut   Type = "shortcut"
)

// Types 按统计输出顺序列出全部事件类别。
var Types = []Type{TypeSearch, TypeNavigation, TypeShortcut}

// ParseType 校验并转换外部输入的类别名。
func ParseType(raw string) (Type, error) {
	for _, t := range Types {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
}

// Metadata 随事件类别变化；Query/Engine 只属于 search，ShortcutName 只属于 shortcut。
type Metadata struct {
	Query        string `json:"query,omitempty"`
	Engine       string `json:"engine,omitempty"`
	ShortcutName string `json:"shortcutName,omitempty"`
	UserAgent    string `json:"userAgent"`
	Referrer     string `json:"referrer"`
}

// Event 一经创建不再修改。Timestamp 为 Unix 毫秒。
type Event struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Timestamp int64    `json:"timestamp"`
	Type      Type     `json:"type"`
	Metadata  Metadata `json:"metadata"`
}

// Time 返回事件时间。
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Stats 是调用时刻的聚合视图，不做缓存。
type Stats struct {
	Total    int          `json:"total"`
	Today    int          `json:"today"`
	ThisWeek int          `json:"thisWeek"`
	ByType   map[Type]int `json:"byType"`
}

const eventsSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "url", "timestamp", "type", "metadata"],
		"properties": {
			"id": {"type": "string"},
			"url": {"type": "string"},
			"timestamp": {"type": "integer"},
			"type": {"enum": ["search", "navigation", "shortcut"]},
			"metadata": {
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"engine": {"type": "string"},
					"shortcutName": {"type": "string"},
					"userAgent": {"type": "string"},
					"referrer": {"type": "string"}
				}
			}
		}
	}
}`

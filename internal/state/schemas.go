package state

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/PXR05/ctrlt/internal/store"
)

// Shortcut 是起始页上的一个快捷入口。
type Shortcut struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Icon string `json:"icon"`
}

// ColorValue 是主题中的一个 CSS 变量取值。
type ColorValue struct {
	Name     string `json:"name"`
	Variable string `json:"variable"`
	Value    string `json:"value"`
}

// Theme 按顺序列出全部颜色变量。
type Theme []ColorValue

const (
	SchemaNone      = "none"
	SchemaShortcuts = "shortcuts"
	SchemaTheme     = "theme"
)

var schemaSources = map[string]string{
	SchemaShortcuts: `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "name", "url", "icon"],
			"properties": {
				"id": {"type": "integer"},
				"name": {"type": "string"},
				"url": {"type": "string"},
				"icon": {"type": "string"}
			}
		}
	}`,
	SchemaTheme: `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["name", "variable", "value"],
			"properties": {
				"name": {"type": "string"},
				"variable": {"type": "string"},
				"value": {"type": "string"}
			}
		}
	}`,
}

// Schema 返回内置 schema 的解析结果；none 或空名称返回 nil。
func Schema(name string) (*jsonschema.Resolved, error) {
	if name == "" || name == SchemaNone {
		return nil, nil
	}
	source, ok := schemaSources[name]
	if !ok {
		return nil, fmt.Errorf("unknown state schema: %s", name)
	}
	return store.CompileSchema(source)
}

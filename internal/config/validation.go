package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedSchemas = map[string]struct{}{
	"none":      {},
	"shortcuts": {},
	"theme":     {},
}

const supportedSchemaList = "none|shortcuts|theme"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}
	if strings.TrimSpace(g.ManifestPath) == "" {
		return newFieldError("Global.ManifestPath", "不能为空")
	}
	switch g.CacheBackend {
	case CacheBackendFS, CacheBackendSQLite:
	default:
		return newFieldError("Global.CacheBackend", "仅支持 fs/sqlite")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch g.StateBackend {
	case StateBackendFile, StateBackendSQLite:
		if g.StatePath == "" {
			return newFieldError("Global.StatePath", "不能为空")
		}
	case StateBackendMemory:
	default:
		return newFieldError("Global.StateBackend", "仅支持 file/sqlite/memory")
	}
	if g.SaveDebounce.DurationValue() < 0 {
		return newFieldError("Global.SaveDebounce", "不能为负数")
	}
	if g.EventLogMax <= 0 {
		return newFieldError("Global.EventLogMax", "必须大于 0")
	}
	if g.InstallConcurrency <= 0 {
		return newFieldError("Global.InstallConcurrency", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.TraceEndpoint != "" {
		if err := validateUpstream(g.TraceEndpoint); err != nil {
			return fmt.Errorf("Global.TraceEndpoint: %w", err)
		}
	}

	seenNames := map[string]struct{}{}
	seenKeys := map[string]struct{}{}
	for i := range c.States {
		st := &c.States[i]
		if st.Name == "" {
			return newFieldError("State[].Name", "不能为空")
		}
		if _, exists := seenNames[st.Name]; exists {
			return newFieldError(stateField(st.Name, "Name"), "重复")
		}
		seenNames[st.Name] = struct{}{}

		// 同一个持久化 key 被多个状态域共享时写入顺序无法保证。
		if _, exists := seenKeys[st.Key]; exists {
			return newFieldError(stateField(st.Name, "Key"), "与其他状态域重复")
		}
		seenKeys[st.Key] = struct{}{}

		if _, ok := supportedSchemas[st.Schema]; !ok {
			return newFieldError(stateField(st.Name, "Schema"), "仅支持 "+supportedSchemaList)
		}
		if st.Default != "" && !json.Valid([]byte(st.Default)) {
			return newFieldError(stateField(st.Name, "Default"), "必须是合法 JSON")
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

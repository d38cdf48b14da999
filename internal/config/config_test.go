package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.SaveDebounce.DurationValue() != 250*time.Millisecond {
		t.Fatalf("SaveDebounce 应解析为 250ms，得到 %v", cfg.Global.SaveDebounce.DurationValue())
	}
	if cfg.Global.EventLogMax != 1000 {
		t.Fatalf("EventLogMax 应该自动填充默认值，得到 %d", cfg.Global.EventLogMax)
	}
	if cfg.Global.CacheBackend != CacheBackendFS {
		t.Fatalf("CacheBackend 默认应为 fs，得到 %s", cfg.Global.CacheBackend)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应被解析为绝对路径: %s", cfg.Global.StoragePath)
	}
	if len(cfg.States) != 2 {
		t.Fatalf("应解析两个状态域，得到 %d", len(cfg.States))
	}
	if cfg.States[1].Key != "ctrlt.theme" {
		t.Fatalf("未设置 Key 时应按名称推导，得到 %s", cfg.States[1].Key)
	}
}

func TestValidateRejectsMissingUpstream(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("缺少 Upstream 的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStateSchemaValidation(t *testing.T) {
	testCases := []struct {
		name      string
		schema    string
		shouldErr bool
	}{
		{"shortcuts ok", "shortcuts", false},
		{"theme ok", "theme", false},
		{"none ok", "none", false},
		{"unsupported schema", "zod", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.States[0].Schema = tc.schema
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for schema %q", tc.schema)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for schema %q: %v", tc.schema, err)
			}
		})
	}
}

func TestValidateRejectsSharedStateKey(t *testing.T) {
	cfg := validConfig()
	cfg.States = append(cfg.States, StateConfig{Name: "other", Key: cfg.States[0].Key, Schema: "none"})
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("共享持久化 key 应报错")
	}
	fieldErr, ok := err.(FieldError)
	if !ok || fieldErr.Field != "State[other].Key" {
		t.Fatalf("应返回 State[other].Key 字段错误，得到 %v", err)
	}
}

func TestValidateRejectsInvalidDefault(t *testing.T) {
	cfg := validConfig()
	cfg.States[0].Default = "[not json"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Default 非法 JSON 时应报错")
	}
}

func TestValidateStatePathRequiredForFileBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Global.StateBackend = StateBackendFile
	cfg.Global.StatePath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("file 后端缺少 StatePath 时应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         5173,
			Upstream:           "http://127.0.0.1:4173",
			ManifestPath:       "manifest.yaml",
			CacheBackend:       CacheBackendFS,
			StoragePath:        "./data",
			StateBackend:       StateBackendMemory,
			SaveDebounce:       Duration(300 * time.Millisecond),
			EventLogMax:        1000,
			InstallConcurrency: 4,
			UpstreamTimeout:    Duration(time.Second),
		},
		States: []StateConfig{
			{Name: "shortcuts", Key: "ctrlt.shortcuts", MaxItems: 10, Schema: "shortcuts", Default: "[]"},
		},
	}
}

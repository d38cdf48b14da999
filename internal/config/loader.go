package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	if len(cfg.States) == 0 {
		cfg.States = DefaultStates()
	}
	for i := range cfg.States {
		applyStateDefaults(&cfg.States[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 相对路径统一以配置文件所在目录为基准，避免工作目录不同导致缓存散落。
	base := filepath.Dir(path)
	cfg.Global.StoragePath = resolvePath(base, cfg.Global.StoragePath)
	cfg.Global.ManifestPath = resolvePath(base, cfg.Global.ManifestPath)
	if cfg.Global.StateBackend != StateBackendMemory {
		cfg.Global.StatePath = resolvePath(base, cfg.Global.StatePath)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5173)
	v.SetDefault("ManifestPath", "manifest.yaml")
	v.SetDefault("CacheBackend", CacheBackendFS)
	v.SetDefault("StoragePath", "./storage/cache")
	v.SetDefault("StateBackend", StateBackendFile)
	v.SetDefault("StatePath", "./storage/state")
	v.SetDefault("SaveDebounce", "300ms")
	v.SetDefault("EventLogMax", 1000)
	v.SetDefault("InstallConcurrency", 8)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5173
	}
	g.CacheBackend = strings.ToLower(strings.TrimSpace(g.CacheBackend))
	if g.CacheBackend == "" {
		g.CacheBackend = CacheBackendFS
	}
	g.StateBackend = strings.ToLower(strings.TrimSpace(g.StateBackend))
	if g.StateBackend == "" {
		g.StateBackend = StateBackendFile
	}
	if g.SaveDebounce.DurationValue() == 0 {
		g.SaveDebounce = Duration(300 * time.Millisecond)
	}
	if g.EventLogMax == 0 {
		g.EventLogMax = 1000
	}
	if g.InstallConcurrency == 0 {
		g.InstallConcurrency = 8
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyStateDefaults(s *StateConfig) {
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
	s.Key = strings.TrimSpace(s.Key)
	if s.Key == "" && s.Name != "" {
		s.Key = "ctrlt." + s.Name
	}
	s.Schema = strings.ToLower(strings.TrimSpace(s.Schema))
	if s.Schema == "" {
		s.Schema = "none"
	}
	if s.MaxItems < 0 {
		s.MaxItems = 0
	}
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(filepath.Join(base, p))
	if err != nil {
		return p
	}
	return abs
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

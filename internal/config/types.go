package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "300ms"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 缓存代数与持久化存储支持的后端。
const (
	CacheBackendFS     = "fs"
	CacheBackendSQLite = "sqlite"

	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
	StateBackendMemory = "memory"
)

// GlobalConfig 描述进程级运行参数：监听端口、起始页源站、缓存代数与状态存储位置。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	Upstream           string   `mapstructure:"Upstream"`
	ManifestPath       string   `mapstructure:"ManifestPath"`
	CacheBackend       string   `mapstructure:"CacheBackend"`
	StoragePath        string   `mapstructure:"StoragePath"`
	StateBackend       string   `mapstructure:"StateBackend"`
	StatePath          string   `mapstructure:"StatePath"`
	SaveDebounce       Duration `mapstructure:"SaveDebounce"`
	EventLogMax        int      `mapstructure:"EventLogMax"`
	InstallConcurrency int      `mapstructure:"InstallConcurrency"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	TraceEndpoint      string   `mapstructure:"TraceEndpoint"`
}

// StateConfig 声明一个持久化状态域，例如快捷方式或主题。
type StateConfig struct {
	Name     string `mapstructure:"Name"`
	Key      string `mapstructure:"Key"`
	MaxItems int    `mapstructure:"MaxItems"`
	Schema   string `mapstructure:"Schema"`
	// Default 为 JSON 文本，加载失败或 reset 时回退到该值。
	Default string `mapstructure:"Default"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	States []StateConfig `mapstructure:"State"`
}

// StateNames 返回所有状态域名称，供启动日志使用。
func StateNames(states []StateConfig) []string {
	if len(states) == 0 {
		return nil
	}
	result := make([]string, len(states))
	for i, st := range states {
		result[i] = fmt.Sprintf("%s:%s", st.Name, st.Key)
	}
	return result
}

// DefaultStates 是未声明 [[State]] 时启用的内置状态域。
func DefaultStates() []StateConfig {
	return []StateConfig{
		{Name: "shortcuts", Key: "ctrlt.shortcuts", MaxItems: 100, Schema: "shortcuts", Default: "[]"},
		{Name: "theme", Key: "ctrlt.theme", Schema: "theme", Default: "[]"},
	}
}

// Package manifest reads the build manifest that names the current cache
// generation and lists the asset paths precached on install.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// ErrInvalid 表示清单内容不满足约束。
var ErrInvalid = errors.New("invalid manifest")

// Manifest 描述一次构建：版本号与全部静态资源路径。
type Manifest struct {
	Version string   `json:"version" yaml:"version"`
	Assets  []string `json:"assets" yaml:"assets"`
}

// Load 根据扩展名解析 YAML 或 JSON（允许注释与尾逗号）清单并校验。
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		standardized, err := hujson.Standardize(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if err := json.Unmarshal(standardized, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate 检查版本号可用作缓存代数名，且资源路径为不重复的绝对路径。
func (m *Manifest) Validate() error {
	m.Version = strings.TrimSpace(m.Version)
	if m.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalid)
	}
	if strings.ContainsAny(m.Version, `/\`) || strings.Contains(m.Version, "..") {
		return fmt.Errorf("%w: version %q contains path separators", ErrInvalid, m.Version)
	}

	seen := make(map[string]struct{}, len(m.Assets))
	for _, asset := range m.Assets {
		if !strings.HasPrefix(asset, "/") {
			return fmt.Errorf("%w: asset %q must start with /", ErrInvalid, asset)
		}
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("%w: duplicate asset %q", ErrInvalid, asset)
		}
		seen[asset] = struct{}{}
	}
	return nil
}

// CacheName 返回本次构建对应的缓存代数名称。
func (m *Manifest) CacheName() string {
	return "cache-" + m.Version
}

// AssetSet 返回精确匹配的路径集合。
func (m *Manifest) AssetSet() AssetSet {
	set := make(AssetSet, len(m.Assets))
	for _, asset := range m.Assets {
		set[asset] = struct{}{}
	}
	return set
}

// AssetSet 是构建期确定的资源路径集合，只做精确匹配。
type AssetSet map[string]struct{}

// Contains 报告 path 是否属于集合；不做前缀或通配匹配。
func (s AssetSet) Contains(path string) bool {
	_, ok := s[path]
	return ok
}

// Len 返回资源数量。
func (s AssetSet) Len() int { return len(s) }

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PXR05/ctrlt/internal/config"
	"github.com/PXR05/ctrlt/internal/logging"
)

func TestRuntimeServesInstalledGeneration(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			upstream, hits := newStartPageStub(t)
			dir := t.TempDir()
			cfg := loadRuntimeConfig(t, dir, upstream.URL, backend)

			rt, err := newRuntime(context.Background(), cfg, "test", logging.Discard())
			if err != nil {
				t.Fatalf("构建运行时失败: %v", err)
			}
			t.Cleanup(func() { _ = rt.close(context.Background()) })

			if err := rt.refresh(context.Background()); err != nil {
				t.Fatalf("安装代数失败: %v", err)
			}
			installed := hits.Load()

			resp := testRequest(t, rt, http.MethodGet, "/_app/app.js", "")
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK || string(body) != "console.log('ctrlt')" {
				t.Fatalf("unexpected asset response: %d %s", resp.StatusCode, string(body))
			}
			if resp.Header.Get("X-Ctrlt-Cache-Hit") != "true" {
				t.Fatalf("预缓存资源应命中缓存，headers: %v", resp.Header)
			}
			if hits.Load() != installed {
				t.Fatalf("命中缓存时不应访问源站")
			}

			resp = testRequest(t, rt, http.MethodGet, "/-/status", "")
			var status struct {
				Interceptor struct {
					State      string `json:"state"`
					Generation string `json:"generation"`
				} `json:"interceptor"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				t.Fatalf("解析状态失败: %v", err)
			}
			if status.Interceptor.State != "active" || status.Interceptor.Generation != "cache-1718000000000" {
				t.Fatalf("unexpected status: %+v", status.Interceptor)
			}

			// 同一版本再次刷新不应重新安装。
			if err := rt.refresh(context.Background()); err != nil {
				t.Fatalf("重复刷新失败: %v", err)
			}
			if hits.Load() != installed {
				t.Fatalf("版本未变化时不应重新拉取资源")
			}
		})
	}
}

func TestRuntimePersistsAcrossRestart(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			upstream, _ := newStartPageStub(t)
			dir := t.TempDir()
			cfg := loadRuntimeConfig(t, dir, upstream.URL, backend)

			rt, err := newRuntime(context.Background(), cfg, "test", logging.Discard())
			if err != nil {
				t.Fatalf("构建运行时失败: %v", err)
			}
			resp := testRequest(t, rt, http.MethodPost, "/-/outbound", `{"type":"navigation","url":"https://go.dev"}`)
			if resp.StatusCode != http.StatusCreated {
				t.Fatalf("记录事件失败: %d", resp.StatusCode)
			}
			resp = testRequest(t, rt, http.MethodPut, "/-/state/theme",
				`[{"name":"Primary","variable":"--primary","value":"#00add8"}]`)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("写入主题失败: %d", resp.StatusCode)
			}
			if err := rt.close(context.Background()); err != nil {
				t.Fatalf("关闭运行时失败: %v", err)
			}

			restarted, err := newRuntime(context.Background(), cfg, "test", logging.Discard())
			if err != nil {
				t.Fatalf("重启运行时失败: %v", err)
			}
			t.Cleanup(func() { _ = restarted.close(context.Background()) })

			if restarted.events.Len() != 1 {
				t.Fatalf("重启后应恢复 1 条事件，得到 %d", restarted.events.Len())
			}
			theme, err := restarted.states.Get("theme")
			if err != nil {
				t.Fatalf("获取主题失败: %v", err)
			}
			colors, ok := theme.Value().([]any)
			if !ok || len(colors) != 1 {
				t.Fatalf("重启后主题应保留，得到 %#v", theme.Value())
			}
		})
	}
}

func TestRuntimeRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{Global: config.GlobalConfig{
		Upstream:     "http://127.0.0.1:4173",
		StateBackend: "redis",
		ListenPort:   5173,
	}}
	if _, err := newRuntime(context.Background(), cfg, "test", logging.Discard()); err == nil {
		t.Fatalf("未知状态后端应返回错误")
	}
}

func newStartPageStub(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	hits := &atomic.Int64{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>ctrlt</html>")
		case "/_app/app.js":
			w.Header().Set("Content-Type", "text/javascript")
			_, _ = io.WriteString(w, "console.log('ctrlt')")
		case "/_app/app.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = io.WriteString(w, "body{}")
		case "/favicon.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, hits
}

func loadRuntimeConfig(t *testing.T, dir, upstream, backend string) *config.Config {
	t.Helper()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	manifest := "version: \"1718000000000\"\nassets:\n  - /\n  - /_app/app.js\n  - /_app/app.css\n  - /favicon.png\n"
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o600); err != nil {
		t.Fatalf("写入清单失败: %v", err)
	}

	cacheBackend := config.CacheBackendFS
	if backend == config.StateBackendSQLite {
		cacheBackend = config.CacheBackendSQLite
	}
	content := fmt.Sprintf(`
ListenPort = 5173
Upstream = "%s"
ManifestPath = "%s"
CacheBackend = "%s"
StoragePath = "%s"
StateBackend = "%s"
StatePath = "%s"
SaveDebounce = "10ms"
LogLevel = "error"
`, upstream, manifestPath, cacheBackend, filepath.Join(dir, "cache"), backend, filepath.Join(dir, "state"))

	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}

func testRequest(t *testing.T, rt *runtime, method, target, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := rt.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadYAML(t *testing.T) {
	m, err := Load(filepath.Join("testdata", "manifest.yaml"))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if m.CacheName() != "cache-1718000000000" {
		t.Fatalf("unexpected cache name: %s", m.CacheName())
	}
	if len(m.Assets) != 4 {
		t.Fatalf("expected 4 assets, got %v", m.Assets)
	}
}

func TestLoadJSONWithComments(t *testing.T) {
	m, err := Load(filepath.Join("testdata", "manifest.json"))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	want := []string{"/_app/immutable/entry/start.js", "/favicon.png"}
	if diff := cmp.Diff(want, m.Assets); diff != "" {
		t.Fatalf("unexpected assets (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsInvalidManifests(t *testing.T) {
	cases := map[string]string{
		"missing version": "assets: [/a.js]\n",
		"path version":    "version: ../x\nassets: []\n",
		"relative asset":  "version: v1\nassets: [a.js]\n",
		"duplicate asset": "version: v1\nassets: [/a.js, /a.js]\n",
		"malformed":       "version: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "manifest.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write manifest: %v", err)
			}
			if _, err := Load(path); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil || errors.Is(err, ErrInvalid) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestAssetSetIsExact(t *testing.T) {
	set := (&Manifest{Version: "v1", Assets: []string{"/app.js", "/"}}).AssetSet()
	if !set.Contains("/app.js") || !set.Contains("/") {
		t.Fatalf("expected listed paths to match")
	}
	for _, path := range []string{"/app.js/", "/APP.js", "/app", "/index.html"} {
		if set.Contains(path) {
			t.Fatalf("%s must not match", path)
		}
	}
	if set.Len() != 2 {
		t.Fatalf("unexpected set size %d", set.Len())
	}
}

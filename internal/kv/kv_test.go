package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStorageRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		if _, ok, err := storage.Get(ctx, "ctrlt.theme"); err != nil || ok {
			t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
		}

		if err := storage.Set(ctx, "ctrlt.theme", `[{"name":"bg"}]`); err != nil {
			t.Fatalf("set error: %v", err)
		}
		if err := storage.Set(ctx, "ctrlt.theme", `[]`); err != nil {
			t.Fatalf("overwrite error: %v", err)
		}
		value, ok, err := storage.Get(ctx, "ctrlt.theme")
		if err != nil || !ok {
			t.Fatalf("get error: ok=%v err=%v", ok, err)
		}
		if value != "[]" {
			t.Fatalf("expected last write, got %s", value)
		}

		if err := storage.Delete(ctx, "ctrlt.theme"); err != nil {
			t.Fatalf("delete error: %v", err)
		}
		if err := storage.Delete(ctx, "ctrlt.theme"); err != nil {
			t.Fatalf("deleting a missing key should succeed, got %v", err)
		}
		if _, ok, _ := storage.Get(ctx, "ctrlt.theme"); ok {
			t.Fatalf("expected key to be deleted")
		}
	})
}

func TestStorageRejectsEmptyKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		if err := storage.Set(context.Background(), "", "x"); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey, got %v", err)
		}
	})
}

func TestFileStorageEscapesKeys(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	ctx := context.Background()
	if err := storage.Set(ctx, "../escape/../key", "v"); err != nil {
		t.Fatalf("set error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].IsDir() {
		t.Fatalf("expected a single flat file, got %v", entries)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "key.json")); err == nil {
		t.Fatalf("key escaped the storage directory")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, storage Storage)) {
	t.Helper()
	backends := map[string]func(t *testing.T) Storage{
		BackendFile: func(t *testing.T) Storage {
			s, err := Open(BackendFile, t.TempDir())
			if err != nil {
				t.Fatalf("open file storage: %v", err)
			}
			return s
		},
		BackendSQLite: func(t *testing.T) Storage {
			s, err := Open(BackendSQLite, filepath.Join(t.TempDir(), "state.db"))
			if err != nil {
				t.Fatalf("open sqlite storage: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
		BackendMemory: func(t *testing.T) Storage { return NewMemoryStorage() },
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, build(t))
		})
	}
}

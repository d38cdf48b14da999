package sqlitedb

import (
	"path/filepath"
	"testing"
)

func TestOpenAppliesSchemaAndWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ctrlt.db")
	db, err := Open(path, WithSchema(`CREATE TABLE IF NOT EXISTS probe (id INTEGER PRIMARY KEY)`))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %s", mode)
	}
	if _, err := db.Exec("INSERT INTO probe (id) VALUES (1)"); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}
}

func TestOpenRejectsBrokenSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.db")
	if _, err := Open(path, WithSchema("CREATE TABLE (")); err == nil {
		t.Fatalf("expected schema error")
	}
}

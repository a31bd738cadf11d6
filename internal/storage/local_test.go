package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalSource_List(t *testing.T) {
	dir := t.TempDir()
	nsDir := filepath.Join(dir, "shop")
	if err := os.MkdirAll(nsDir, 0755); err != nil {
		t.Fatalf("failed to create namespace dir: %v", err)
	}

	// Write out of order so sorting is actually exercised.
	files := map[string]string{
		"002_add_email.sql":    "-- migrate:up\nALTER TABLE shop__users ADD COLUMN email VARCHAR;\n-- migrate:down\n",
		"001_create_users.sql": "-- migrate:up\nCREATE TABLE shop__users (id INTEGER);\n-- migrate:down\nDROP TABLE shop__users;\n",
		"notes.txt":            "not a migration",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(nsDir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	source := NewLocalSource(dir)
	listed, err := source.List(context.Background(), "shop")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(listed) != 2 {
		t.Fatalf("expected 2 migration files, got %d", len(listed))
	}
	if listed[0].Name != "001_create_users.sql" || listed[1].Name != "002_add_email.sql" {
		t.Errorf("files not sorted by name: %s, %s", listed[0].Name, listed[1].Name)
	}
	if string(listed[0].Data) != files["001_create_users.sql"] {
		t.Errorf("content mismatch for %s", listed[0].Name)
	}
}

func TestLocalSource_MissingNamespace(t *testing.T) {
	source := NewLocalSource(t.TempDir())
	listed, err := source.List(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("List of missing namespace should not error: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("expected no files, got %d", len(listed))
	}
}

func TestLocalSink_Put(t *testing.T) {
	baseDir := t.TempDir()
	sink, err := NewLocalSink(baseDir)
	if err != nil {
		t.Fatalf("failed to create local sink: %v", err)
	}

	content := []byte("snapshot data")
	if err := sink.Put(context.Background(), "backups/shop/users.ndjson.snappy", content); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	written, err := os.ReadFile(filepath.Join(baseDir, "backups", "shop", "users.ndjson.snappy"))
	if err != nil {
		t.Fatalf("failed to read written object: %v", err)
	}
	if string(written) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", written, content)
	}
}

package storage

import (
	"testing"

	"docchatgo/internal/config"
)

func TestOpenAndMigrateSQLite(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: ":memory:"},
	}}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run must be a no-op
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	for _, table := range []string{"knowledge_chunks", "usage_stats"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenUnknownDatabase(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{}}
	if _, err := Open("postgres", cfg); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestMigrateUnsupportedDriver(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: ":memory:"},
	}}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := Migrate(db, "oracle"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

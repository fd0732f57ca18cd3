package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, `{
		"databases": {"sqlite3": {"dsn": "data/docchat.db"}},
		"providers": {"openai": {"model": "gpt-3.5-turbo"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":8090" {
		t.Fatalf("unexpected address %q", cfg.BasicConfig.ServerAddress)
	}
	if !cfg.IsSelfHosted() {
		t.Fatalf("self-hosted should default to true")
	}
	if cfg.BasicConfig.UsageLimit != 1000 {
		t.Fatalf("unexpected usage limit %d", cfg.BasicConfig.UsageLimit)
	}
	wantDSN := filepath.Join(filepath.Dir(path), "data/docchat.db")
	if got := cfg.Databases["sqlite3"].DSN; got != wantDSN {
		t.Fatalf("dsn not resolved: want %s got %s", wantDSN, got)
	}
	if !filepath.IsAbs(cfg.BasicConfig.CacheDir) {
		t.Fatalf("cache dir should be absolute, got %s", cfg.BasicConfig.CacheDir)
	}
	if cfg.VectorStore.Table != "documents" || cfg.VectorStore.StatsTable != "stats" {
		t.Fatalf("unexpected vector store tables: %+v", cfg.VectorStore)
	}
}

func TestLoadEnvOverridesProviderKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeConfig(t, `{
		"databases": {"sqlite3": {"dsn": ":memory:"}},
		"providers": {"openai": {"api_key": "sk-from-file"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ProviderKey("openai"); got != "sk-from-env" {
		t.Fatalf("expected env key, got %q", got)
	}
	if got := cfg.ProviderKey("claude"); got != "" {
		t.Fatalf("expected empty claude key, got %q", got)
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {"database": "mysql"}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing database config")
	}
}

func TestLoadPublicDemo(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"self_hosted": false, "usage_limit": 50},
		"databases": {"sqlite3": {"dsn": ":memory:"}}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IsSelfHosted() {
		t.Fatalf("expected public demo mode")
	}
	if cfg.BasicConfig.UsageLimit != 50 {
		t.Fatalf("usage limit overwritten: %d", cfg.BasicConfig.UsageLimit)
	}
}

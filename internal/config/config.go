package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	VectorStore VectorStoreConfig         `json:"vector_store"`
	Embedding   EmbeddingConfig           `json:"embedding"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	Database      string `json:"database"`
	CacheDir      string `json:"cache_dir"`
	UploadDir     string `json:"upload_dir"`
	LogFile       string `json:"log_file"`
	Production    bool   `json:"production"`
	// SelfHosted unlocks every model and slider range. The public demo pins gpt-3.5-turbo.
	SelfHosted        *bool `json:"self_hosted"`
	UsageLimit        int   `json:"usage_limit"`
	SessionTTL        int   `json:"session_ttl_minutes"`
	SessionCleanEvery int   `json:"session_clean_interval_minutes"`
	MinWorkers        int   `json:"min_workers"`
	MaxWorkers        int   `json:"max_workers"`
	QueueSize         int   `json:"queue_size"`
	WorkerIdleTimeout int   `json:"worker_idle_timeout_minutes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// VectorStoreConfig points at the hosted (Supabase/Postgres + pgvector) knowledge base.
// An empty DSN keeps the knowledge base in the local SQL database.
type VectorStoreConfig struct {
	DSN        string `json:"dsn"`
	Table      string `json:"table"`
	StatsTable string `json:"stats_table"`
	Dimensions int    `json:"dimensions"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	BatchSize int    `json:"batch_size"`
}

// environment overrides for provider keys
var providerKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.finalize(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize(baseDir string) error {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.Database == "" {
		b.Database = "sqlite3"
	}
	if b.CacheDir == "" {
		b.CacheDir = "./data/index"
	}
	if b.UploadDir == "" {
		b.UploadDir = "./data/uploads"
	}
	if b.LogFile == "" {
		b.LogFile = "./data/logs/docchat.log"
	}
	if b.SelfHosted == nil {
		selfHosted := true
		b.SelfHosted = &selfHosted
	}
	if b.UsageLimit <= 0 {
		b.UsageLimit = 1000
	}
	if b.SessionTTL <= 0 {
		b.SessionTTL = 120
	}
	if b.SessionCleanEvery <= 0 {
		b.SessionCleanEvery = 10
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	b.CacheDir = resolve(baseDir, b.CacheDir)
	b.UploadDir = resolve(baseDir, b.UploadDir)
	b.LogFile = resolve(baseDir, b.LogFile)

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for name, envKey := range providerKeyEnv {
		key := strings.TrimSpace(os.Getenv(envKey))
		if key == "" {
			continue
		}
		prov := c.Providers[name]
		prov.APIKey = key
		c.Providers[name] = prov
	}

	dbCfg, ok := c.Databases[b.Database]
	if !ok {
		return fmt.Errorf("database config for %s not found", b.Database)
	}
	if isSQLite(b.Database) {
		if dbCfg.DSN == "" {
			return fmt.Errorf("sqlite dsn must be provided")
		}
		if dbCfg.DSN != ":memory:" && !strings.HasPrefix(dbCfg.DSN, "file:") {
			dbCfg.DSN = resolve(baseDir, dbCfg.DSN)
			c.Databases[b.Database] = dbCfg
		}
	}

	if c.VectorStore.Table == "" {
		c.VectorStore.Table = "documents"
	}
	if c.VectorStore.StatsTable == "" {
		c.VectorStore.StatsTable = "stats"
	}
	if c.VectorStore.Dimensions <= 0 {
		c.VectorStore.Dimensions = 1536
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 64
	}
	return nil
}

// IsSelfHosted reports whether the full model list and slider ranges are unlocked.
func (c *Config) IsSelfHosted() bool {
	return c.BasicConfig.SelfHosted == nil || *c.BasicConfig.SelfHosted
}

// ProviderKey returns the server-side API key for a provider, if any.
func (c *Config) ProviderKey(provider string) string {
	if c == nil {
		return ""
	}
	return c.Providers[provider].APIKey
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"docchatgo/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured local database (sqlite3 or mysql).
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if dbCfg.DSN == ":memory:" {
			// every pooled connection would otherwise see its own empty database
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the knowledge and usage tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS knowledge_chunks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				document TEXT NOT NULL,
				chunk_index INTEGER NOT NULL,
				content TEXT NOT NULL,
				embedding TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL,
				UNIQUE(document, chunk_index)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_document ON knowledge_chunks(document)`,
			`CREATE TABLE IF NOT EXISTS usage_stats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				date TEXT NOT NULL,
				kind TEXT NOT NULL,
				details TEXT NOT NULL DEFAULT '',
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_stats_date ON usage_stats(date)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS knowledge_chunks (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				document VARCHAR(255) NOT NULL,
				chunk_index INT NOT NULL,
				content MEDIUMTEXT NOT NULL,
				embedding MEDIUMTEXT NOT NULL,
				metadata TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_document_chunk (document, chunk_index),
				INDEX idx_knowledge_chunks_document (document)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS usage_stats (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				date CHAR(8) NOT NULL,
				kind VARCHAR(32) NOT NULL,
				details TEXT NOT NULL,
				metadata TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_usage_stats_date (date)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

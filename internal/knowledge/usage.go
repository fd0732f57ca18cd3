package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"docchatgo/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Usage counts chat and embedding requests per day.
type Usage interface {
	Record(ctx context.Context, kind models.UsageKind, details string, metadata map[string]string) error
	// Today is the number of requests recorded today.
	Today(ctx context.Context) (int, error)
}

// SQLUsage stores usage rows in the local usage_stats table.
type SQLUsage struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLUsage(db *sql.DB) *SQLUsage {
	return &SQLUsage{db: db, now: time.Now}
}

func (u *SQLUsage) Record(ctx context.Context, kind models.UsageKind, details string, metadata map[string]string) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode usage metadata: %w", err)
	}
	now := u.now().UTC()
	_, err = u.db.ExecContext(ctx, `
		INSERT INTO usage_stats (date, kind, details, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		models.UsageDate(now), string(kind), details, string(meta), now)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (u *SQLUsage) Today(ctx context.Context) (int, error) {
	var n int
	err := u.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_stats WHERE date = ?`,
		models.UsageDate(u.now().UTC())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// PGUsage stores usage rows in the hosted stats table (date, chat, embedding, details, metadata).
type PGUsage struct {
	pool  *pgxpool.Pool
	table string
	now   func() time.Time
}

func NewPGUsage(pool *pgxpool.Pool, table string) *PGUsage {
	return &PGUsage{pool: pool, table: table, now: time.Now}
}

func (u *PGUsage) Record(ctx context.Context, kind models.UsageKind, details string, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := u.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (date, chat, embedding, details, metadata) VALUES ($1, $2, $3, $4, $5)`, u.table),
		models.UsageDate(u.now().UTC()), kind == models.UsageChat, kind == models.UsageEmbedding, details, metadata)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (u *PGUsage) Today(ctx context.Context) (int, error) {
	var n int
	err := u.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE date = $1`, u.table),
		models.UsageDate(u.now().UTC())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// UsageReport is today's usage against the daily limit.
type UsageReport struct {
	Usage  int    `json:"usage"`
	Limit  int    `json:"limit"`
	Over   bool   `json:"over"`
	Banner string `json:"banner"`
}

// Banner describes usage against limit. Going over is advisory: nothing is blocked.
func Banner(usage, limit int) UsageReport {
	r := UsageReport{Usage: usage, Limit: limit, Over: usage > limit}
	if r.Over {
		r.Banner = fmt.Sprintf("You have used %d tokens today, which is more than your daily limit of %d tokens. "+
			"Please come back later or consider self-hosting.", usage, limit)
	} else {
		r.Banner = fmt.Sprintf("Usage today: %d tokens out of %d", usage, limit)
	}
	return r
}

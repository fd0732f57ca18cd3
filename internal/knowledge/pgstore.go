package knowledge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"docchatgo/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLSTATE unique_violation
const pgUniqueViolation = "23505"

// PGConfig locates the hosted (Supabase) vector tables.
type PGConfig struct {
	DSN        string
	Table      string
	StatsTable string
	Dimensions int
}

// OpenPG connects to Postgres, creates the vector extension and tables when missing,
// and returns a pool with pgvector types registered on every connection.
func OpenPG(ctx context.Context, cfg PGConfig) (*pgxpool.Pool, error) {
	if !identifier.MatchString(cfg.Table) || !identifier.MatchString(cfg.StatsTable) {
		return nil, fmt.Errorf("invalid table names %q/%q", cfg.Table, cfg.StatsTable)
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("vector dimensions must be positive")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// the vector type must exist before it can be registered on pooled connections
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect vector store: %w", err)
	}
	err = migratePG(ctx, conn, cfg)
	conn.Close(ctx)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse vector store dsn: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create vector store pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping vector store: %w", err)
	}
	return pool, nil
}

func migratePG(ctx context.Context, conn *pgx.Conn, cfg PGConfig) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, cfg.Table, cfg.Dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_file_name_idx ON %s ((metadata->>'file_name'))`, cfg.Table, cfg.Table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_document_chunk_idx ON %s ((metadata->>'file_name'), (metadata->>'chunk_index'))`, cfg.Table, cfg.Table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			date TEXT NOT NULL,
			chat BOOLEAN NOT NULL DEFAULT false,
			embedding BOOLEAN NOT NULL DEFAULT false,
			details TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, cfg.StatsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_date_idx ON %s (date)`, cfg.StatsTable, cfg.StatsTable),
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate vector store: %w", err)
		}
	}
	return nil
}

// PGStore keeps the knowledge base in Postgres with pgvector. Rows follow the
// hosted layout: (content, embedding, metadata) with the file name inside metadata.
type PGStore struct {
	pool  *pgxpool.Pool
	table string
}

func NewPGStore(pool *pgxpool.Pool, table string) *PGStore {
	return &PGStore{pool: pool, table: table}
}

func (s *PGStore) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	insert := fmt.Sprintf(`INSERT INTO %s (content, embedding, metadata) VALUES ($1, $2, $3)`, s.table)
	for _, c := range chunks {
		meta := make(map[string]string, len(c.Metadata)+2)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta[metaFileName] = c.Document
		meta[metaChunkIndex] = strconv.Itoa(c.Index)
		batch.Queue(insert, c.Content, pgvector.NewVector(c.Embedding), meta)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateDocument, chunks[0].Document)
		}
		return fmt.Errorf("insert chunks: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Search(ctx context.Context, vector []float32, k int) ([]models.Match, error) {
	if k <= 0 {
		k = 4
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, s.table), pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var (
			c     models.Chunk
			score float64
		)
		if err := rows.Scan(&c.ID, &c.Content, &c.Metadata, &score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		fillFromMetadata(&c)
		matches = append(matches, models.Match{Chunk: c, Score: score})
	}
	return matches, rows.Err()
}

func (s *PGStore) HasDocument(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE metadata->>'file_name' = $1)`, s.table), name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document: %w", err)
	}
	return exists, nil
}

func (s *PGStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT metadata->>'file_name', COUNT(*), MIN(created_at), COALESCE(MAX(metadata->>'file_size'), '0')
		FROM %s
		GROUP BY 1
		ORDER BY MIN(created_at), 1`, s.table))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			d    models.Document
			size string
		)
		if err := rows.Scan(&d.Name, &d.Chunks, &d.CreatedAt, &size); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Size = fileSize(map[string]string{metaFileSize: size})
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *PGStore) DocumentChunks(ctx context.Context, name string) ([]models.Chunk, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata FROM %s
		WHERE metadata->>'file_name' = $1
		ORDER BY COALESCE((metadata->>'chunk_index')::int, 0), id`, s.table), name)
	if err != nil {
		return nil, fmt.Errorf("query document chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.Content, &c.Metadata); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		fillFromMetadata(&c)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrDocumentNotFound
	}
	return chunks, nil
}

func (s *PGStore) DeleteDocument(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE metadata->>'file_name' = $1`, s.table), name)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func fillFromMetadata(c *models.Chunk) {
	c.Document = c.Metadata[metaFileName]
	c.Index, _ = strconv.Atoi(c.Metadata[metaChunkIndex])
}

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"docchatgo/internal/index"
	"docchatgo/internal/models"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// SQLStore keeps the knowledge base in the local sqlite/mysql database.
// Embeddings are stored as JSON and searched by brute-force cosine similarity.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_chunks (document, chunk_index, content, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for _, c := range chunks {
		vec, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.Document, c.Index, c.Content, string(vec), string(meta), now); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateDocument, c.Document)
			}
			return fmt.Errorf("insert chunk %d of %s: %w", c.Index, c.Document, err)
		}
	}
	return tx.Commit()
}

// isUniqueViolation reports a (document, chunk_index) collision, which means another
// session stored the same document name first.
func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

func (s *SQLStore) Search(ctx context.Context, vector []float32, k int) ([]models.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document, chunk_index, content, embedding, metadata FROM knowledge_chunks`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	query := index.ToFloat64(vector)
	var matches []models.Match
	for rows.Next() {
		c, rawVec, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		var stored []float32
		if err := json.Unmarshal([]byte(rawVec), &stored); err != nil {
			return nil, fmt.Errorf("decode embedding of chunk %d: %w", c.ID, err)
		}
		matches = append(matches, models.Match{Chunk: c, Score: index.Cosine(query, index.ToFloat64(stored))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *SQLStore) HasDocument(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks WHERE document = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count chunks: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.document, k.metadata, k.created_at,
			(SELECT COUNT(*) FROM knowledge_chunks c WHERE c.document = k.document)
		FROM knowledge_chunks k
		WHERE k.chunk_index = 0
		ORDER BY k.created_at, k.document`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			d    models.Document
			meta string
		)
		if err := rows.Scan(&d.Name, &meta, &d.CreatedAt, &d.Chunks); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var m map[string]string
		if err := json.Unmarshal([]byte(meta), &m); err == nil {
			d.Size = fileSize(m)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLStore) DocumentChunks(ctx context.Context, name string) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document, chunk_index, content, embedding, metadata
		FROM knowledge_chunks WHERE document = ? ORDER BY chunk_index`, name)
	if err != nil {
		return nil, fmt.Errorf("query document chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		c, _, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
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

func (s *SQLStore) DeleteDocument(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE document = ?`, name)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func scanChunk(rows *sql.Rows) (models.Chunk, string, error) {
	var (
		c       models.Chunk
		rawVec  string
		rawMeta string
	)
	if err := rows.Scan(&c.ID, &c.Document, &c.Index, &c.Content, &rawVec, &rawMeta); err != nil {
		return c, "", fmt.Errorf("scan chunk: %w", err)
	}
	if rawMeta != "" {
		if err := json.Unmarshal([]byte(rawMeta), &c.Metadata); err != nil {
			return c, "", fmt.Errorf("decode metadata of chunk %d: %w", c.ID, err)
		}
	}
	return c, rawVec, nil
}

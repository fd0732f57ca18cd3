// Package knowledge is the shared knowledge base ("brain"): chunked documents with
// embeddings, similarity search over them, and daily usage accounting.
package knowledge

import (
	"context"
	"errors"
	"strconv"

	"docchatgo/internal/models"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDuplicateDocument = errors.New("document already in the knowledge base")
	ErrNameRequired      = errors.New("document name required")
)

// Store persists chunks and answers nearest-neighbour queries.
type Store interface {
	AddChunks(ctx context.Context, chunks []models.Chunk) error
	Search(ctx context.Context, vector []float32, k int) ([]models.Match, error)
	HasDocument(ctx context.Context, name string) (bool, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	DocumentChunks(ctx context.Context, name string) ([]models.Chunk, error)
	DeleteDocument(ctx context.Context, name string) error
}

const (
	metaFileName     = "file_name"
	metaFileSize     = "file_size"
	metaChunkSize    = "chunk_size"
	metaChunkOverlap = "chunk_overlap"
	metaChunkIndex   = "chunk_index"
	metaSource       = "source"
)

func fileSize(meta map[string]string) int64 {
	n, _ := strconv.ParseInt(meta[metaFileSize], 10, 64)
	return n
}

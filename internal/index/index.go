package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/embedding"
)

// ErrEmptyIndex is returned when a document produced no chunks to embed.
var ErrEmptyIndex = errors.New("document has no text to index")

// Entry is one embedded chunk.
type Entry struct {
	Text   string    `json:"text"`
	Vector []float64 `json:"vector"`
}

// Index is an in-memory similarity structure over a document's chunks.
type Index struct {
	Name         string    `json:"name"`
	ContentHash  string    `json:"content_hash"`
	ChunkSize    int       `json:"chunk_size"`
	ChunkOverlap int       `json:"chunk_overlap"`
	CreatedAt    time.Time `json:"created_at"`
	Entries      []Entry   `json:"entries"`
}

// Match is a chunk ranked against a query.
type Match struct {
	Position int     `json:"position"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// Build embeds chunks in batches of batchSize and returns the index.
func Build(ctx context.Context, emb embedding.Embedder, chunks []string, batchSize int) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyIndex
	}
	vectors, err := EmbedBatched(ctx, emb, chunks, batchSize)
	if err != nil {
		return nil, err
	}
	ix := &Index{CreatedAt: time.Now().UTC(), Entries: make([]Entry, len(chunks))}
	for i, chunk := range chunks {
		ix.Entries[i] = Entry{Text: chunk, Vector: vectors[i]}
	}
	return ix, nil
}

// EmbedBatched calls the embedder once per batch and checks the vector count.
func EmbedBatched(ctx context.Context, emb embedding.Embedder, texts []string, batchSize int) ([][]float64, error) {
	if emb == nil {
		return nil, errors.New("embedder required")
	}
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := emb.EmbedStrings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), end-start)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Search ranks entries by cosine similarity to vector.
func (ix *Index) Search(vector []float64, k int) []Match {
	scores := make([]scored, len(ix.Entries))
	for i, e := range ix.Entries {
		scores[i] = scored{pos: i, score: Cosine(vector, e.Vector)}
	}
	ranked := topK(scores, k)
	matches := make([]Match, len(ranked))
	for i, s := range ranked {
		matches[i] = Match{Position: s.pos, Text: ix.Entries[s.pos].Text, Score: s.score}
	}
	return matches
}

// Query embeds text and returns the k closest chunks.
func (ix *Index) Query(ctx context.Context, emb embedding.Embedder, text string, k int) ([]Match, error) {
	if emb == nil {
		return nil, errors.New("embedder required")
	}
	vectors, err := emb.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for the query", len(vectors))
	}
	return ix.Search(vectors[0], k), nil
}

package models

import "time"

// Chunk is a bounded slice of a document's text, the unit of embedding.
type Chunk struct {
	ID        int64             `json:"id"`
	Document  string            `json:"document"`
	Index     int               `json:"index"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Match is a chunk ranked against a query.
type Match struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Document summarizes a knowledge-base entry for the explore view.
type Document struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

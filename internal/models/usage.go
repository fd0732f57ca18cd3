package models

import "time"

type UsageKind string

const (
	UsageChat      UsageKind = "chat"
	UsageEmbedding UsageKind = "embedding"
)

// UsageRecord is one row of the daily usage counter table.
type UsageRecord struct {
	ID        int64             `json:"id"`
	Date      string            `json:"date"`
	Kind      UsageKind         `json:"kind"`
	Details   string            `json:"details"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// UsageDate formats t the way the usage table keys its rows (YYYYMMDD).
func UsageDate(t time.Time) string {
	return t.Format("20060102")
}

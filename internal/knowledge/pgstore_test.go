package knowledge

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"docchatgo/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	suffix := time.Now().UnixNano()
	cfg := PGConfig{
		DSN:        dsn,
		Table:      fmt.Sprintf("documents_test_%d", suffix),
		StatsTable: fmt.Sprintf("stats_test_%d", suffix),
		Dimensions: 3,
	}
	pool, err := OpenPG(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+cfg.Table+", "+cfg.StatsTable)
		pool.Close()
	})

	store := NewPGStore(pool, cfg.Table)
	meta := map[string]string{metaFileName: "a.txt", metaFileSize: "42"}
	require.NoError(t, store.AddChunks(ctx, []models.Chunk{
		{Document: "a.txt", Index: 0, Content: "x axis", Embedding: []float32{1, 0, 0}, Metadata: meta},
		{Document: "a.txt", Index: 1, Content: "y axis", Embedding: []float32{0, 1, 0}, Metadata: meta},
	}))

	err = store.AddChunks(ctx, []models.Chunk{
		{Document: "a.txt", Index: 0, Content: "again", Embedding: []float32{0, 0, 1}, Metadata: meta},
	})
	assert.ErrorIs(t, err, ErrDuplicateDocument)

	has, err := store.HasDocument(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, has)

	matches, err := store.Search(ctx, []float32{0, 0.9, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "y axis", matches[0].Chunk.Content)
	assert.Equal(t, 1, matches[0].Chunk.Index)

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(42), docs[0].Size)
	assert.Equal(t, 2, docs[0].Chunks)

	require.NoError(t, store.DeleteDocument(ctx, "a.txt"))
	assert.ErrorIs(t, store.DeleteDocument(ctx, "a.txt"), ErrDocumentNotFound)

	usage := NewPGUsage(pool, cfg.StatsTable)
	require.NoError(t, usage.Record(ctx, models.UsageChat, "q", nil))
	n, err := usage.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

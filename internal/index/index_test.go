package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterEmbedder maps text to letter frequencies so similar words land close together.
type letterEmbedder struct {
	calls int
	texts int
	err   error
}

func (e *letterEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls++
	e.texts += len(texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, 26)
		for _, r := range strings.ToLower(text) {
			if r >= 'a' && r <= 'z' {
				vec[r-'a']++
			}
		}
		out[i] = vec
	}
	return out, nil
}

func TestSplitOverlap(t *testing.T) {
	chunks := Split("abcdefghij", 4, 2)
	assert.Equal(t, []string{"abcd", "cdef", "efgh", "ghij"}, chunks)

	assert.Equal(t, []string{"short"}, Split("short", 100, 0))
	assert.Nil(t, Split("   ", 10, 0))
	// overlap >= size falls back to non-overlapping chunks
	assert.Equal(t, []string{"abc", "def"}, Split("abcdef", 3, 3))
}

func TestSplitCountsRunes(t *testing.T) {
	chunks := Split("héllo wörld", 5, 0)
	require.Len(t, chunks, 3)
	assert.Equal(t, "héllo", chunks[0])
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float64{1}, []float64{1, 2}))
	assert.Zero(t, Cosine(nil, nil))
}

func TestBuildBatchesAndQuery(t *testing.T) {
	emb := &letterEmbedder{}
	ix, err := Build(context.Background(), emb, []string{"aaaa", "bbbb", "cccc"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls)
	require.Len(t, ix.Entries, 3)

	matches, err := ix.Query(context.Background(), emb, "bb", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "bbbb", matches[0].Text)
	assert.Equal(t, 1, matches[0].Position)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build(context.Background(), &letterEmbedder{}, nil, 4)
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestBuilderCachesByName(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir, 8, nil)
	emb := &letterEmbedder{}
	opts := Options{ChunkSize: 10, ChunkOverlap: 0}

	first, err := b.Build(context.Background(), emb, "a.txt", []byte("apples and apricots"), opts)
	require.NoError(t, err)
	calls := emb.calls

	_, err = os.Stat(b.CachePath("a.txt"))
	require.NoError(t, err)

	second, err := b.Build(context.Background(), emb, "a.txt", []byte("apples and apricots"), opts)
	require.NoError(t, err)
	assert.Equal(t, calls, emb.calls, "cache hit must not embed again")
	assert.Equal(t, first.Entries, second.Entries)
}

func TestBuilderReturnsStaleIndexForReusedName(t *testing.T) {
	dir := t.TempDir()
	emb := &letterEmbedder{}
	opts := Options{ChunkSize: 100}

	// a previous run cached a.txt with different content
	prior := NewBuilder(dir, 8, nil)
	old, err := prior.Build(context.Background(), emb, "a.txt", []byte("old content"), opts)
	require.NoError(t, err)

	b := NewBuilder(dir, 8, nil)
	got, err := b.Build(context.Background(), emb, "a.txt", []byte("brand new content"), opts)
	require.NoError(t, err)
	assert.Equal(t, "old content", got.Entries[0].Text)
	assert.Equal(t, old.ContentHash, got.ContentHash)

	require.NoError(t, b.Invalidate("a.txt"))
	fresh, err := b.Build(context.Background(), emb, "a.txt", []byte("brand new content"), opts)
	require.NoError(t, err)
	assert.Equal(t, "brand new content", fresh.Entries[0].Text)

	require.NoError(t, b.Invalidate("missing.txt"))
}

func TestBuilderEmbedFailureLeavesNoCache(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir, 8, nil)
	boom := errors.New("rate limited")
	_, err := b.Build(context.Background(), &letterEmbedder{err: boom}, "a.txt", []byte("text"), Options{ChunkSize: 10})
	require.ErrorIs(t, err, boom)

	_, statErr := os.Stat(b.CachePath("a.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCachePathSanitizes(t *testing.T) {
	b := NewBuilder("/cache", 8, nil)
	p := b.CachePath("../my notes?.txt")
	assert.Equal(t, "/cache", filepath.Dir(p))
	assert.True(t, strings.HasPrefix(filepath.Base(p), "my_notes_.txt-"), p)
	assert.True(t, strings.HasSuffix(p, ".index.json"), p)
	assert.True(t, strings.HasPrefix(filepath.Base(b.CachePath("..")), "document-"))
	assert.Equal(t, p, b.CachePath("../my notes?.txt"))
}

func TestCachePathDistinguishesNames(t *testing.T) {
	b := NewBuilder("/cache", 8, nil)
	assert.NotEqual(t, b.CachePath("报告.txt"), b.CachePath("数据.txt"))
	assert.NotEqual(t, b.CachePath("a b.txt"), b.CachePath("a_b.txt"))
}

func TestBuilderKeepsNonASCIINamesApart(t *testing.T) {
	b := NewBuilder(t.TempDir(), 8, nil)
	emb := &letterEmbedder{}
	opts := Options{ChunkSize: 100}

	first, err := b.Build(context.Background(), emb, "报告.txt", []byte("apples apples apples"), opts)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), emb, "数据.txt", []byte("zebra zebra zebra"), opts)
	require.NoError(t, err)

	assert.Equal(t, "报告.txt", first.Name)
	assert.Equal(t, "数据.txt", second.Name)
	assert.Equal(t, "zebra zebra zebra", second.Entries[0].Text)
}

func TestBuilderIgnoresCacheOfAnotherName(t *testing.T) {
	b := NewBuilder(t.TempDir(), 8, nil)
	emb := &letterEmbedder{}
	opts := Options{ChunkSize: 100}

	_, err := b.Build(context.Background(), emb, "a.txt", []byte("apples"), opts)
	require.NoError(t, err)
	data, err := os.ReadFile(b.CachePath("a.txt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(b.CachePath("b.txt"), data, 0o644))

	got, err := b.Build(context.Background(), emb, "b.txt", []byte("zebra"), opts)
	require.NoError(t, err)
	assert.Equal(t, "b.txt", got.Name)
	assert.Equal(t, "zebra", got.Entries[0].Text)
}

func TestRetrieverHonorsTopK(t *testing.T) {
	emb := &letterEmbedder{}
	ix, err := Build(context.Background(), emb, []string{"aaaa", "aabb", "cccc"}, 0)
	require.NoError(t, err)
	ix.Name = "a.txt"

	docs, err := ix.AsRetriever(emb, 0).Retrieve(context.Background(), "aa")
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	docs, err = ix.AsRetriever(emb, 3).Retrieve(context.Background(), "aa", retriever.WithTopK(1))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "aaaa", docs[0].Content)
	assert.Equal(t, "a.txt#0", docs[0].ID)
	assert.Equal(t, "a.txt", docs[0].MetaData["source"])
}

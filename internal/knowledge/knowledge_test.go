package knowledge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"docchatgo/internal/config"
	"docchatgo/internal/index"
	"docchatgo/internal/models"
	"docchatgo/internal/service/ai"
	"docchatgo/internal/storage"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type letterEmbedder struct {
	texts int
}

func (e *letterEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.texts += len(texts)
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

type contextEcho struct {
	inputs [][]*schema.Message
}

func (m *contextEcho) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.inputs = append(m.inputs, input)
	return schema.AssistantMessage(fmt.Sprintf("answer %d", len(m.inputs)), nil), nil
}

func (m *contextEcho) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type fakeProvider struct {
	emb    *letterEmbedder
	model  *contextEcho
	noKeys bool
}

func (p *fakeProvider) ChatModel(context.Context, ai.ModelSpec, ai.Keys) (model.BaseChatModel, error) {
	if p.noKeys {
		return nil, ai.ErrAPIKeyMissing
	}
	return p.model, nil
}

func (p *fakeProvider) Embedder(context.Context, ai.Keys) (embedding.Embedder, error) {
	if p.noKeys {
		return nil, ai.ErrAPIKeyMissing
	}
	return p.emb, nil
}

func (p *fakeProvider) HasKey(string, ai.Keys) bool { return !p.noKeys }

func newTestBrain(t *testing.T) (*Brain, *fakeProvider) {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(db, "sqlite3"))

	extractor, err := NewExtractor(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	provider := &fakeProvider{emb: &letterEmbedder{}, model: &contextEcho{}}
	return NewBrain(NewSQLStore(db), NewSQLUsage(db), extractor, provider, 2, 3, nil), provider
}

var smallChunks = index.Options{ChunkSize: 100, ChunkOverlap: 0}

func TestAddFileStoresChunksWithMetadata(t *testing.T) {
	brain, provider := newTestBrain(t)
	ctx := context.Background()

	text := strings.Repeat("apples grow on trees. ", 10)
	doc, err := brain.AddFile(ctx, AddRequest{Scope: "s1", Name: "fruit.txt", Data: []byte(text), Options: smallChunks})
	require.NoError(t, err)
	assert.Equal(t, "fruit.txt", doc.Name)
	assert.Equal(t, int64(len(text)), doc.Size)
	assert.Greater(t, doc.Chunks, 1)
	assert.Equal(t, doc.Chunks, provider.emb.texts)

	docs, err := brain.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.Chunks, docs[0].Chunks)
	assert.Equal(t, doc.Size, docs[0].Size)

	chunks, err := brain.DocumentChunks(ctx, "fruit.txt")
	require.NoError(t, err)
	require.Len(t, chunks, doc.Chunks)
	assert.Equal(t, "100", chunks[0].Metadata[metaChunkSize])
	assert.Equal(t, "0", chunks[0].Metadata[metaChunkOverlap])
	assert.Equal(t, "fruit.txt", chunks[0].Metadata[metaFileName])
	assert.Equal(t, "file", chunks[0].Metadata[metaSource])

	report, err := brain.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Usage)
}

func TestAddFileRejectsDuplicateName(t *testing.T) {
	brain, _ := newTestBrain(t)
	ctx := context.Background()
	req := AddRequest{Scope: "s1", Name: "a.txt", Data: []byte("first version"), Options: smallChunks}
	_, err := brain.AddFile(ctx, req)
	require.NoError(t, err)

	req.Data = []byte("second version")
	_, err = brain.AddFile(ctx, req)
	assert.ErrorIs(t, err, ErrDuplicateDocument)
}

// racedStore hides existing documents from HasDocument, as when two sessions
// pass the duplicate check before either has stored its chunks.
type racedStore struct {
	Store
}

func (racedStore) HasDocument(context.Context, string) (bool, error) { return false, nil }

func TestConcurrentAddOfSameNameStoresOnce(t *testing.T) {
	brain, _ := newTestBrain(t)
	brain.store = racedStore{Store: brain.store}
	ctx := context.Background()

	req := AddRequest{Scope: "s1", Name: "a.txt", Data: []byte("first version"), Options: smallChunks}
	_, err := brain.AddFile(ctx, req)
	require.NoError(t, err)

	req.Scope, req.Data = "s2", []byte("second version")
	_, err = brain.AddFile(ctx, req)
	assert.ErrorIs(t, err, ErrDuplicateDocument)

	chunks, err := brain.DocumentChunks(ctx, "a.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "first version", chunks[0].Content)
}

func TestSQLStoreRejectsDuplicateChunk(t *testing.T) {
	brain, _ := newTestBrain(t)
	ctx := context.Background()
	chunk := models.Chunk{Document: "a.txt", Index: 0, Content: "x", Embedding: []float32{1, 0}, Metadata: map[string]string{}}
	require.NoError(t, brain.store.AddChunks(ctx, []models.Chunk{chunk}))

	other := chunk
	other.Content = "y"
	err := brain.store.AddChunks(ctx, []models.Chunk{{Document: "b.txt", Index: 0, Content: "z", Embedding: []float32{0, 1}}, other})
	assert.ErrorIs(t, err, ErrDuplicateDocument)

	has, err := brain.store.HasDocument(ctx, "b.txt")
	require.NoError(t, err)
	assert.False(t, has, "a failed add must not leave partial chunks")
}

func TestAddFileErrors(t *testing.T) {
	brain, provider := newTestBrain(t)
	ctx := context.Background()

	_, err := brain.AddFile(ctx, AddRequest{Name: "image.png", Data: []byte("x"), Options: smallChunks})
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = brain.AddFile(ctx, AddRequest{Name: "blank.txt", Data: []byte("   \n"), Options: smallChunks})
	assert.ErrorIs(t, err, ErrNoText)

	_, err = brain.AddFile(ctx, AddRequest{Name: "", Data: []byte("x"), Options: smallChunks})
	assert.ErrorIs(t, err, ErrNameRequired)

	provider.noKeys = true
	_, err = brain.AddFile(ctx, AddRequest{Name: "a.txt", Data: []byte("hello"), Options: smallChunks})
	assert.ErrorIs(t, err, ai.ErrAPIKeyMissing)
	assert.Zero(t, provider.emb.texts)
}

func TestForget(t *testing.T) {
	brain, _ := newTestBrain(t)
	ctx := context.Background()
	_, err := brain.AddFile(ctx, AddRequest{Name: "a.txt", Data: []byte("hello world"), Options: smallChunks})
	require.NoError(t, err)

	require.NoError(t, brain.Forget(ctx, "a.txt"))
	_, err = brain.DocumentChunks(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.ErrorIs(t, brain.Forget(ctx, "a.txt"), ErrDocumentNotFound)

	// the name is free again once forgotten
	_, err = brain.AddFile(ctx, AddRequest{Name: "a.txt", Data: []byte("hello again"), Options: smallChunks})
	assert.NoError(t, err)
}

func TestRetrieverRanksClosestChunk(t *testing.T) {
	brain, provider := newTestBrain(t)
	ctx := context.Background()
	_, err := brain.AddFile(ctx, AddRequest{Name: "z.txt", Data: []byte("zzzz zzzz zzzz"), Options: smallChunks})
	require.NoError(t, err)
	_, err = brain.AddFile(ctx, AddRequest{Name: "b.txt", Data: []byte("banana bread"), Options: smallChunks})
	require.NoError(t, err)

	docs, err := brain.Retriever(provider.emb, 1).Retrieve(ctx, "banana")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "banana bread", docs[0].Content)
	assert.Equal(t, "b.txt#0", docs[0].ID)
	assert.Equal(t, "b.txt", docs[0].MetaData["source"])
}

func TestChatUsesKnowledgeAndRecordsUsage(t *testing.T) {
	brain, provider := newTestBrain(t)
	ctx := context.Background()
	_, err := brain.AddFile(ctx, AddRequest{Name: "b.txt", Data: []byte("banana bread recipe"), Options: smallChunks})
	require.NoError(t, err)

	memory := &ai.Memory{}
	answer, err := brain.Chat(ctx, ChatRequest{Question: "how to bake banana bread?", Spec: ai.ModelSpec{Model: "gpt-3.5-turbo"}, Memory: memory})
	require.NoError(t, err)
	assert.Equal(t, "answer 1", answer)
	require.Len(t, memory.Turns, 1)

	require.Len(t, provider.model.inputs, 1)
	var prompt strings.Builder
	for _, m := range provider.model.inputs[0] {
		prompt.WriteString(m.Content)
	}
	assert.Contains(t, prompt.String(), "banana bread recipe")

	report, err := brain.Usage(ctx)
	require.NoError(t, err)
	// one embedding row from the upload, one chat row
	assert.Equal(t, 2, report.Usage)
	assert.False(t, report.Over)

	_, err = brain.Chat(ctx, ChatRequest{Question: "  ", Memory: memory})
	assert.ErrorIs(t, err, ai.ErrEmptyQuestion)
}

func TestBanner(t *testing.T) {
	under := Banner(3, 10)
	assert.False(t, under.Over)
	assert.Equal(t, "Usage today: 3 tokens out of 10", under.Banner)

	over := Banner(11, 10)
	assert.True(t, over.Over)
	assert.True(t, strings.HasPrefix(over.Banner, "You have used 11 tokens today, which is more than your daily limit of 10 tokens."))

	assert.False(t, Banner(10, 10).Over)
}

func TestUsageOverLimitIsAdvisory(t *testing.T) {
	brain, _ := newTestBrain(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := brain.AddFile(ctx, AddRequest{Name: fmt.Sprintf("doc%d.txt", i), Data: []byte("some text"), Options: smallChunks})
		require.NoError(t, err)
	}
	report, err := brain.Usage(ctx)
	require.NoError(t, err)
	assert.True(t, report.Over)

	_, err = brain.Chat(ctx, ChatRequest{Question: "still allowed?", Spec: ai.ModelSpec{Model: "gpt-3.5-turbo"}, Memory: &ai.Memory{}})
	assert.NoError(t, err)
}

func TestHTMLTextDropsChrome(t *testing.T) {
	text, err := htmlText(strings.NewReader(`<html><head><style>p{}</style></head><body>
		<nav>menu</nav><main><h1>Title</h1><p>First   paragraph.</p><script>alert(1)</script></main>
		<footer>footer</footer></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Title\nFirst paragraph.", text)

	_, err = htmlText(strings.NewReader(`<html><body><script>x</script></body></html>`))
	assert.ErrorIs(t, err, ErrNoText)
}

func TestAddURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><article><p>Go channels carry values.</p></article></body></html>`)
	}))
	defer srv.Close()

	brain, _ := newTestBrain(t)
	// httptest listens on loopback
	brain.extractor.client = newFetchClient(nil)
	ctx := context.Background()
	doc, err := brain.AddURL(ctx, srv.URL+"/page", smallChunks, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Chunks)

	chunks, err := brain.DocumentChunks(ctx, srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "Go channels carry values.", chunks[0].Content)
	assert.Equal(t, "url", chunks[0].Metadata[metaSource])

	_, err = brain.AddURL(ctx, srv.URL+"/missing", smallChunks, nil)
	var ext *ai.ExternalError
	assert.ErrorAs(t, err, &ext)
	_, err = brain.AddURL(ctx, "ftp://example.com/file", smallChunks, nil)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestURLTextRefusesNonPublicHosts(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, "secret")
	}))
	defer srv.Close()

	e, err := NewExtractor(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	_, err = e.URLText(context.Background(), srv.URL+"/latest/meta-data")
	assert.ErrorIs(t, err, ErrInvalidURL)
	assert.Zero(t, hits)
}

func TestPublicOnly(t *testing.T) {
	blocked := []string{
		"127.0.0.1:80", "10.1.2.3:80", "172.16.0.1:443", "192.168.1.1:80",
		"169.254.169.254:80", "100.64.0.1:80", "0.0.0.0:80", "[::1]:80",
		"[fe80::1]:80", "[fd00::1]:80", "[::ffff:127.0.0.1]:80",
	}
	for _, addr := range blocked {
		assert.ErrorIs(t, publicOnly("tcp", addr, nil), ErrBlockedAddress, addr)
	}
	for _, addr := range []string{"93.184.216.34:443", "[2606:4700::1111]:443"} {
		assert.NoError(t, publicOnly("tcp", addr, nil), addr)
	}
}

func TestSupportedFile(t *testing.T) {
	for _, name := range []string{"a.txt", "b.MD", "c.csv", "d.pdf", "e.html"} {
		assert.True(t, SupportedFile(name), name)
	}
	for _, name := range []string{"a.exe", "noext", "b.docx"} {
		assert.False(t, SupportedFile(name), name)
	}
}

func TestUniquePathAvoidsCollisions(t *testing.T) {
	e, err := NewExtractor(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	dir, first := e.uniquePath("s1", "a.txt")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o600))
	_, second := e.uniquePath("s1", "a.txt")
	assert.True(t, strings.HasSuffix(second, "a (1).txt"))
}

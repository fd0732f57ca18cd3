package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"docchatgo/internal/index"
	"docchatgo/internal/models"
	"docchatgo/internal/service/ai"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const defaultTopK = 4

// Brain is the shared knowledge base: adding, exploring, forgetting and chatting.
type Brain struct {
	store     Store
	usage     Usage
	extractor *Extractor
	provider  ai.Provider
	batchSize int
	limit     int
	logger    *zap.Logger
}

func NewBrain(store Store, usage Usage, extractor *Extractor, provider ai.Provider, batchSize, limit int, logger *zap.Logger) *Brain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Brain{
		store:     store,
		usage:     usage,
		extractor: extractor,
		provider:  provider,
		batchSize: batchSize,
		limit:     limit,
		logger:    logger.Named("brain"),
	}
}

// AddRequest is one file to add to the knowledge base.
type AddRequest struct {
	// Scope keeps concurrent uploads of different sessions apart on disk.
	Scope   string
	Name    string
	Data    []byte
	Options index.Options
	Keys    ai.Keys
}

// AddFile extracts, chunks, embeds and stores a file. A name already in the base is rejected.
func (b *Brain) AddFile(ctx context.Context, req AddRequest) (*models.Document, error) {
	if err := b.ensureNew(ctx, req.Name); err != nil {
		return nil, err
	}
	emb, err := b.provider.Embedder(ctx, req.Keys)
	if err != nil {
		return nil, err
	}
	text, err := b.extractor.FileText(ctx, req.Scope, req.Name, req.Data)
	if err != nil {
		return nil, err
	}
	return b.add(ctx, emb, req.Name, text, int64(len(req.Data)), req.Options, "file")
}

// AddURL fetches a web page and stores its text under the URL as document name.
func (b *Brain) AddURL(ctx context.Context, rawURL string, opts index.Options, keys ai.Keys) (*models.Document, error) {
	name := strings.TrimSpace(rawURL)
	if err := b.ensureNew(ctx, name); err != nil {
		return nil, err
	}
	emb, err := b.provider.Embedder(ctx, keys)
	if err != nil {
		return nil, err
	}
	text, err := b.extractor.URLText(ctx, name)
	if err != nil {
		return nil, err
	}
	return b.add(ctx, emb, name, text, int64(len(text)), opts, "url")
}

func (b *Brain) ensureNew(ctx context.Context, name string) error {
	if name == "" {
		return ErrNameRequired
	}
	exists, err := b.store.HasDocument(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDocument, name)
	}
	return nil
}

func (b *Brain) add(ctx context.Context, emb embedding.Embedder, name, text string, size int64, opts index.Options, source string) (*models.Document, error) {
	pieces := index.Split(text, opts.ChunkSize, opts.ChunkOverlap)
	if len(pieces) == 0 {
		return nil, ErrNoText
	}
	vectors, err := index.EmbedBatched(ctx, emb, pieces, b.batchSize)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{
		metaFileName:     name,
		metaFileSize:     strconv.FormatInt(size, 10),
		metaChunkSize:    strconv.Itoa(opts.ChunkSize),
		metaChunkOverlap: strconv.Itoa(opts.ChunkOverlap),
		metaSource:       source,
	}
	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			Document:  name,
			Index:     i,
			Content:   piece,
			Embedding: index.ToFloat32(vectors[i]),
			Metadata:  meta,
		}
	}
	if err := b.store.AddChunks(ctx, chunks); err != nil {
		return nil, err
	}
	b.record(ctx, models.UsageEmbedding, name, meta)
	b.logger.Info("document added", zap.String("document", name), zap.Int("chunks", len(chunks)), zap.String("source", source))
	return &models.Document{Name: name, Size: size, Chunks: len(chunks), CreatedAt: time.Now().UTC()}, nil
}

// ChatRequest is a question against the knowledge base.
type ChatRequest struct {
	Question string
	Spec     ai.ModelSpec
	Keys     ai.Keys
	Memory   *ai.Memory
}

// Chat answers from the knowledge base and records one chat usage row.
func (b *Brain) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", ai.ErrEmptyQuestion
	}
	chatModel, err := b.provider.ChatModel(ctx, req.Spec, req.Keys)
	if err != nil {
		return "", err
	}
	emb, err := b.provider.Embedder(ctx, req.Keys)
	if err != nil {
		return "", err
	}
	bot, err := ai.NewChatbot(chatModel, b.Retriever(emb, defaultTopK), req.Memory, b.logger)
	if err != nil {
		return "", err
	}
	answer, err := bot.Answer(ctx, req.Question)
	if err != nil {
		return "", err
	}
	b.record(ctx, models.UsageChat, req.Question, map[string]string{"model": req.Spec.Model})
	return answer, nil
}

// Usage reports today's usage with the advisory banner.
func (b *Brain) Usage(ctx context.Context) (UsageReport, error) {
	n, err := b.usage.Today(ctx)
	if err != nil {
		return UsageReport{}, err
	}
	return Banner(n, b.limit), nil
}

func (b *Brain) Documents(ctx context.Context) ([]models.Document, error) {
	return b.store.ListDocuments(ctx)
}

func (b *Brain) DocumentChunks(ctx context.Context, name string) ([]models.Chunk, error) {
	return b.store.DocumentChunks(ctx, name)
}

func (b *Brain) Forget(ctx context.Context, name string) error {
	if err := b.store.DeleteDocument(ctx, name); err != nil {
		return err
	}
	b.logger.Info("document forgotten", zap.String("document", name))
	return nil
}

func (b *Brain) record(ctx context.Context, kind models.UsageKind, details string, meta map[string]string) {
	if err := b.usage.Record(ctx, kind, details, meta); err != nil {
		b.logger.Warn("record usage failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Retriever exposes the store through the eino retriever interface.
func (b *Brain) Retriever(emb embedding.Embedder, k int) retriever.Retriever {
	return &storeRetriever{store: b.store, emb: emb, topK: k}
}

type storeRetriever struct {
	store Store
	emb   embedding.Embedder
	topK  int
}

func (r *storeRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if options.TopK != nil {
		topK = *options.TopK
	}
	vectors, err := r.emb.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for the query", len(vectors))
	}
	matches, err := r.store.Search(ctx, index.ToFloat32(vectors[0]), topK)
	if err != nil {
		return nil, err
	}
	docs := make([]*schema.Document, 0, len(matches))
	for _, m := range matches {
		if options.ScoreThreshold != nil && m.Score < *options.ScoreThreshold {
			continue
		}
		docs = append(docs, &schema.Document{
			ID:      m.Chunk.Document + "#" + strconv.Itoa(m.Chunk.Index),
			Content: m.Chunk.Content,
			MetaData: map[string]any{
				"source": m.Chunk.Document,
				"score":  m.Score,
			},
		})
	}
	return docs, nil
}

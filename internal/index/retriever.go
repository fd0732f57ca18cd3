package index

import (
	"context"
	"strconv"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

const defaultTopK = 4

type indexRetriever struct {
	ix   *Index
	emb  embedding.Embedder
	topK int
}

// AsRetriever exposes the index through the eino retriever interface.
func (ix *Index) AsRetriever(emb embedding.Embedder, k int) retriever.Retriever {
	if k <= 0 {
		k = defaultTopK
	}
	return &indexRetriever{ix: ix, emb: emb, topK: k}
}

func (r *indexRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if options.TopK != nil {
		topK = *options.TopK
	}
	matches, err := r.ix.Query(ctx, r.emb, query, topK)
	if err != nil {
		return nil, err
	}
	docs := make([]*schema.Document, 0, len(matches))
	for _, m := range matches {
		if options.ScoreThreshold != nil && m.Score < *options.ScoreThreshold {
			continue
		}
		docs = append(docs, &schema.Document{
			ID:      r.ix.Name + "#" + strconv.Itoa(m.Position),
			Content: m.Text,
			MetaData: map[string]any{
				"source": r.ix.Name,
				"score":  m.Score,
			},
		})
	}
	return docs, nil
}

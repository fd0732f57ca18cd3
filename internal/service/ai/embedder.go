package ai

import (
	"context"
	"fmt"

	aclopenai "github.com/cloudwego/eino-ext/libs/acl/openai"
	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"
)

const (
	defaultOpenAIEmbeddingModel = "text-embedding-ada-002"
	defaultGeminiEmbeddingModel = "text-embedding-004"
)

// Embedder builds the configured embedding client. Provider failures are reported as ExternalError.
func (f *ModelFactory) Embedder(ctx context.Context, keys Keys) (embedding.Embedder, error) {
	provider := f.cfg.Embedding.Provider
	token, err := f.resolveKey(provider, keys)
	if err != nil {
		return nil, err
	}
	modelName := f.cfg.Embedding.Model

	switch provider {
	case ProviderOpenAI:
		if modelName == "" {
			modelName = defaultOpenAIEmbeddingModel
		}
		client, err := aclopenai.NewEmbeddingClient(ctx, &aclopenai.EmbeddingConfig{
			BaseURL: f.cfg.Providers[ProviderOpenAI].BaseURL,
			APIKey:  token,
			Model:   modelName,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai embedder: %w", err)
		}
		return &externalEmbedder{op: "openai embedding", inner: client}, nil
	case ProviderGemini:
		if modelName == "" {
			modelName = defaultGeminiEmbeddingModel
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  token,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return &externalEmbedder{op: "gemini embedding", inner: &geminiEmbedder{client: client, model: modelName}}, nil
	}
	return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
}

type externalEmbedder struct {
	op    string
	inner embedding.Embedder
}

func (e *externalEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	vectors, err := e.inner.EmbedStrings(ctx, texts, opts...)
	if err != nil {
		return nil, external(e.op, err)
	}
	return vectors, nil
}

type geminiEmbedder struct {
	client *genai.Client
	model  string
}

func (g *geminiEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vec := make([]float64, len(e.Values))
		for j, v := range e.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

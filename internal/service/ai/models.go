package ai

import (
	"context"
	"fmt"
	"strings"

	"docchatgo/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// Keys holds API keys entered by a session, by provider.
type Keys map[string]string

// ModelSpec selects a chat model and its sampling parameters.
type ModelSpec struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Provider builds chat models and embedders for a session.
type Provider interface {
	ChatModel(ctx context.Context, spec ModelSpec, keys Keys) (model.BaseChatModel, error)
	Embedder(ctx context.Context, keys Keys) (embedding.Embedder, error)
	HasKey(provider string, keys Keys) bool
}

// ProviderFor maps a model name to the provider serving it.
func ProviderFor(modelName string) (string, error) {
	name := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(name, "gpt-"):
		return ProviderOpenAI, nil
	case strings.HasPrefix(name, "claude-"):
		return ProviderClaude, nil
	case strings.HasPrefix(name, "gemini-"):
		return ProviderGemini, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
}

// ModelFactory creates eino chat models and embedders from the configured providers.
type ModelFactory struct {
	cfg *config.Config
}

func NewModelFactory(cfg *config.Config) *ModelFactory {
	return &ModelFactory{cfg: cfg}
}

// resolveKey prefers the key entered in the session over the server-side key.
func (f *ModelFactory) resolveKey(provider string, keys Keys) (string, error) {
	if key := strings.TrimSpace(keys[provider]); key != "" {
		return key, nil
	}
	if key := f.cfg.ProviderKey(provider); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w: %s", ErrAPIKeyMissing, provider)
}

func (f *ModelFactory) HasKey(provider string, keys Keys) bool {
	_, err := f.resolveKey(provider, keys)
	return err == nil
}

func (f *ModelFactory) ChatModel(ctx context.Context, spec ModelSpec, keys Keys) (model.BaseChatModel, error) {
	provider, err := ProviderFor(spec.Model)
	if err != nil {
		return nil, err
	}
	token, err := f.resolveKey(provider, keys)
	if err != nil {
		return nil, err
	}
	provCfg := f.cfg.Providers[provider]
	temperature := float32(spec.Temperature)
	maxTokens := spec.MaxTokens

	var chatModel model.BaseChatModel
	switch provider {
	case ProviderOpenAI:
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     provCfg.BaseURL,
			Model:       spec.Model,
			APIKey:      token,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
	case ProviderGemini:
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  token,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       spec.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
	case ProviderClaude:
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      token,
			Model:       spec.Model,
			BaseURL:     baseURLPtr,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

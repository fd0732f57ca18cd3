package session

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

const (
	ModelGPT35 = "gpt-3.5-turbo"
	ModelGPT4  = "gpt-4"
)

// claudeModels are offered only when an Anthropic key is configured.
var claudeModels = []string{"claude-v1", "claude-v1.3", "claude-instant-v1-100k", "claude-instant-v1.1-100k"}

const (
	MinTemperature   = 0.0
	MaxTemperature   = 1.0
	MinChunkSize     = 100
	MaxChunkSize     = 1000
	ChunkSizeStep    = 50
	MinChunkOverlap  = 0
	MaxChunkOverlap  = 100
	ChunkOverlapStep = 10
	MinMaxTokens     = 256
	MaxMaxTokens     = 2048
)

const (
	publicUploadLimit     = 1 << 20
	selfHostedUploadLimit = 32 << 20
)

var ErrInvalidSetting = errors.New("invalid setting")

// Settings are the user-tunable generation and chunking parameters.
type Settings struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	ChunkSize    int     `json:"chunk_size"`
	ChunkOverlap int     `json:"chunk_overlap"`
	MaxTokens    int     `json:"max_tokens"`
}

// DefaultSettings: gpt-3.5-turbo, temperature 0.0, chunks of 500 without overlap, 256 max tokens.
func DefaultSettings() Settings {
	return Settings{
		Model:        ModelGPT35,
		Temperature:  0.0,
		ChunkSize:    500,
		ChunkOverlap: 0,
		MaxTokens:    256,
	}
}

// Policy decides which settings a deployment accepts.
type Policy struct {
	SelfHosted bool
	Models     []string
}

// NewPolicy lists gpt-3.5-turbo and gpt-4, then the Claude models and the Gemini model
// when their providers have server keys. The public demo only offers gpt-3.5-turbo.
func NewPolicy(selfHosted, anthropic bool, geminiModel string) Policy {
	if !selfHosted {
		return Policy{SelfHosted: false, Models: []string{ModelGPT35}}
	}
	models := []string{ModelGPT35, ModelGPT4}
	if anthropic {
		models = append(models, claudeModels...)
	}
	if geminiModel != "" {
		models = append(models, geminiModel)
	}
	return Policy{SelfHosted: true, Models: models}
}

// Validate rejects unknown models and values outside their range or step.
func (p Policy) Validate(s Settings) error {
	if !slices.Contains(p.Models, s.Model) {
		return fmt.Errorf("%w: model %q is not available", ErrInvalidSetting, s.Model)
	}
	if math.IsNaN(s.Temperature) || s.Temperature < MinTemperature || s.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature %.2f outside [%.1f, %.1f]", ErrInvalidSetting, s.Temperature, MinTemperature, MaxTemperature)
	}
	if tenths := s.Temperature * 10; math.Abs(tenths-math.Round(tenths)) > 1e-9 {
		return fmt.Errorf("%w: temperature must move in steps of 0.1", ErrInvalidSetting)
	}
	if err := checkStep("chunk_size", s.ChunkSize, MinChunkSize, MaxChunkSize, ChunkSizeStep); err != nil {
		return err
	}
	if err := checkStep("chunk_overlap", s.ChunkOverlap, MinChunkOverlap, MaxChunkOverlap, ChunkOverlapStep); err != nil {
		return err
	}
	if s.MaxTokens < MinMaxTokens || s.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("%w: max_tokens %d outside [%d, %d]", ErrInvalidSetting, s.MaxTokens, MinMaxTokens, MaxMaxTokens)
	}
	if !p.SelfHosted && s.MaxTokens != MinMaxTokens {
		return fmt.Errorf("%w: max_tokens is fixed at %d on the public demo", ErrInvalidSetting, MinMaxTokens)
	}
	return nil
}

func checkStep(name string, v, lo, hi, step int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %d outside [%d, %d]", ErrInvalidSetting, name, v, lo, hi)
	}
	if (v-lo)%step != 0 {
		return fmt.Errorf("%w: %s must move in steps of %d", ErrInvalidSetting, name, step)
	}
	return nil
}

// MaxUploadBytes is the largest file a session may upload.
func (p Policy) MaxUploadBytes() int64 {
	if p.SelfHosted {
		return selfHostedUploadLimit
	}
	return publicUploadLimit
}

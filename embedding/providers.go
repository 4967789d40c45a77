package embedding

import (
	"fmt"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	gemini "github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	openai "github.com/amikos-tech/chroma-go/pkg/embeddings/openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultGeminiModel = "text-embedding-004"
)

type ProviderConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

func NewFunction(cfg ProviderConfig) (embeddings.EmbeddingFunction, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		model := cfg.Model
		if model == "" {
			model = DefaultOpenAIModel
		}

		opts := []openai.Option{openai.WithModel(openai.EmbeddingModel(model))}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}

		ef, err := openai.NewOpenAIEmbeddingFunction(cfg.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedding function: %w", err)
		}

		return ef, nil

	case ProviderGemini:
		model := cfg.Model
		if model == "" {
			model = DefaultGeminiModel
		}

		ef, err := gemini.NewGeminiEmbeddingFunction(
			gemini.WithAPIKey(cfg.APIKey),
			gemini.WithDefaultModel(embeddings.EmbeddingModel(model)))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
		}

		return ef, nil
	}

	return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
}

package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/philippgille/chromem-go"
)

const (
	defaultOpenAIModel = "text-embedding-3-small"
	defaultOllamaModel = "nomic-embed-text"
	defaultOllamaURL   = "http://localhost:11434/api"
)

// OpenAI embeds text with any OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a remote embedding provider.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embeddings: missing API key (EMBED_API_KEY)")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}, nil
}

func (o *OpenAI) Name() string { return "openai:" + o.model }

func (o *OpenAI) Prepare(context.Context, []string) error { return nil }

func (o *OpenAI) Func() chromem.EmbeddingFunc {
	return o.Embed
}

// Embed requests a single embedding vector.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("create embedding: empty response")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Ollama embeds text with a local Ollama server.
type Ollama struct {
	model string
	fn    chromem.EmbeddingFunc
}

// NewOllama creates a provider backed by chromem's Ollama client.
func NewOllama(cfg Config) *Ollama {
	model := cfg.Model
	if model == "" || model == defaultOpenAIModel {
		model = defaultOllamaModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &Ollama{model: model, fn: chromem.NewEmbeddingFuncOllama(model, baseURL)}
}

func (o *Ollama) Name() string { return "ollama:" + o.model }

func (o *Ollama) Prepare(context.Context, []string) error { return nil }

func (o *Ollama) Func() chromem.EmbeddingFunc { return o.fn }

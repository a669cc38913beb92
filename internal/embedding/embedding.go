package embedding

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// Provider turns text into vectors for the index.
type Provider interface {
	Name() string
	// Prepare is called once with the whole chunk corpus before any
	// embedding is requested. Remote providers ignore it.
	Prepare(ctx context.Context, corpus []string) error
	Func() chromem.EmbeddingFunc
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// New creates the provider named in cfg.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "tfidf", "":
		return NewTFIDF(), nil
	case "openai":
		return NewOpenAI(cfg)
	case "ollama":
		return NewOllama(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

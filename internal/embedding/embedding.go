package embedding

import (
	"context"
	"fmt"
	"sync"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api", "local" (Ollama), "gemini" or "hash"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "api":
		return NewAPIProvider(cfg), nil
	case "local", "ollama":
		return NewOllamaProvider(cfg), nil
	case "gemini":
		return NewGenAIProvider(ctx, cfg)
	case "hash":
		return NewHashProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// dimensionCache remembers the width of the first vector a provider returns.
type dimensionCache struct {
	once sync.Once
	dim  int
	def  int
}

func (d *dimensionCache) observe(vectors [][]float32) {
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		d.once.Do(func() {
			d.dim = len(vectors[0])
		})
	}
}

// get returns the observed dimension, or the configured default.
func (d *dimensionCache) get() int {
	if d.dim > 0 {
		return d.dim
	}
	return d.def
}

package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIProvider implements Provider with the Gemini embedding API.
type GenAIProvider struct {
	client *genai.Client
	model  string
	dims   dimensionCache
}

// NewGenAIProvider creates a Gemini embedding provider.
func NewGenAIProvider(ctx context.Context, cfg Config) (*GenAIProvider, error) {
	model := cfg.Model
	if model == "" {
		model = "text-embedding-004"
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("embedding: create genai client: %w", err)
	}
	return &GenAIProvider{
		client: client,
		model:  model,
		dims:   dimensionCache{def: cfg.Dimension},
	}, nil
}

// Embed embeds every text in one request.
func (p *GenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var cfg *genai.EmbedContentConfig
	if d := p.dims.def; d > 0 {
		dim := int32(d)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding: genai request: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	p.dims.observe(out)
	return out, nil
}

// Dimension returns the embedding vector dimension.
func (p *GenAIProvider) Dimension() int {
	return p.dims.get()
}

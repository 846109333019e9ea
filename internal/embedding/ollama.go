package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	// ollamaBatchSize bounds how many chunks go into one /api/embed call.
	ollamaBatchSize = 32
)

// OllamaProvider implements Provider against Ollama's batch /api/embed
// endpoint. Long documents are sent in batches of ollamaBatchSize.
type OllamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
	dims     dimensionCache
}

// NewOllamaProvider creates a provider for cfg.Endpoint, defaulting to a
// local Ollama.
func NewOllamaProvider(cfg Config) *OllamaProvider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	return &OllamaProvider{
		endpoint: endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: 60 * time.Second},
		dims:     dimensionCache{def: cfg.Dimension},
	}
}

type embedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// Embed returns one vector per text, in input order.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ollamaBatchSize {
		batch := texts[start:min(start+ollamaBatchSize, len(texts))]
		vectors, err := p.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding: texts %d-%d: %w", start, start+len(batch)-1, err)
		}
		out = append(out, vectors...)
	}

	p.dims.observe(out)
	return out, nil
}

func (p *OllamaProvider) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: batch, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var oe ollamaError
		if json.Unmarshal(data, &oe) == nil && oe.Error != "" {
			return nil, fmt.Errorf("ollama %d: %s", resp.StatusCode, oe.Error)
		}
		return nil, fmt.Errorf("ollama %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) != len(batch) {
		return nil, fmt.Errorf("model %s returned %d vectors for %d inputs", p.model, len(result.Embeddings), len(batch))
	}
	for i, v := range result.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("model %s returned an empty vector for input %d", p.model, i)
		}
	}
	return result.Embeddings, nil
}

// Dimension returns the observed vector width, or the configured one before
// the first call.
func (p *OllamaProvider) Dimension() int {
	return p.dims.get()
}

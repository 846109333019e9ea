package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OllamaBackend talks to a local Ollama server's /api/chat endpoint.
type OllamaBackend struct {
	config BackendConfig
	client *http.Client
	logger *zap.Logger
}

// NewOllamaBackend creates an Ollama backend.
func NewOllamaBackend(cfg BackendConfig, logger *zap.Logger) *OllamaBackend {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	return &OllamaBackend{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (b *OllamaBackend) Name() string { return "ollama" }

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   any            `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// Chat sends a non-streaming chat request. A response schema is passed in
// the format field, which Ollama uses to constrain decoding.
func (b *OllamaBackend) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = b.config.Model
	}
	or := ollamaRequest{
		Model:    model,
		Messages: req.Messages,
		Format:   req.ResponseSchema,
		Options:  map[string]any{},
	}
	if req.Temperature > 0 {
		or.Options["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		or.Options["top_p"] = req.TopP
	}
	if req.MaxTokens > 0 {
		or.Options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(or)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &ChatResponse{
		Model:        result.Model,
		Role:         result.Message.Role,
		Content:      result.Message.Content,
		FinishReason: result.DoneReason,
		Usage: Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		},
	}, nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AnthropicBackend talks to the Claude messages API.
type AnthropicBackend struct {
	config BackendConfig
	client *http.Client
	logger *zap.Logger
}

// NewAnthropicBackend creates a new Anthropic backend.
func NewAnthropicBackend(cfg BackendConfig, logger *zap.Logger) *AnthropicBackend {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	return &AnthropicBackend{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

// Chat sends a non-streaming chat request to Claude.
func (b *AnthropicBackend) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	anthropicReq, err := b.convertRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.config.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var claudeResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return b.convertResponse(&claudeResp), nil
}

// Anthropic-specific request/response types
type anthropicRequest struct {
	Model       string         `json:"model"`
	Messages    []anthropicMsg `json:"messages"`
	System      string         `json:"system,omitempty"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature,omitempty"`
	TopP        float64        `json:"top_p,omitempty"`
	Stop        []string       `json:"stop_sequences,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// convertRequest moves system messages to the top-level field. A response
// schema is passed as an instruction since the messages API has no
// structured output mode.
func (b *AnthropicBackend) convertRequest(req *ChatRequest) (*anthropicRequest, error) {
	model := req.Model
	if model == "" {
		model = b.config.Model
	}
	ar := &anthropicRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
		Stop:      req.Stop,
	}
	if ar.MaxTokens == 0 {
		ar.MaxTokens = 1024
	}
	// Claude accepts temperature in [0, 1].
	if req.Temperature > 0 && req.Temperature <= 1 {
		ar.Temperature = req.Temperature
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		ar.Messages = append(ar.Messages, anthropicMsg{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if req.ResponseSchema != nil {
		s, err := json.Marshal(req.ResponseSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal response schema: %w", err)
		}
		system = append(system, "Respond only with JSON objects that validate against this JSON schema, "+
			"separated by blank lines when there is more than one:\n"+string(s))
	}
	ar.System = strings.Join(system, "\n\n")
	return ar, nil
}

func (b *AnthropicBackend) convertResponse(resp *anthropicResponse) *ChatResponse {
	content := ""
	for _, c := range resp.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}
	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Role:         resp.Role,
		Content:      content,
		FinishReason: resp.StopReason,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

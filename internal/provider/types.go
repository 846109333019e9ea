package provider

import (
	"context"
	"time"

	"github.com/nidhogg/persona-sim/internal/schema"
)

// Backend is one chat-completion API. Implementations return *APIError (or
// the SDK's own error type) so the client can classify failures.
type Backend interface {
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ChatRequest represents a request to an LLM backend. Its JSON form is
// also the response cache key material, so every field that changes the
// answer must be serialized.
type ChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature,omitempty"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	TopP             float64   `json:"top_p,omitempty"`
	FrequencyPenalty float64   `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64   `json:"presence_penalty,omitempty"`
	Stop             []string  `json:"stop,omitempty"`
	// ResponseSchema requests structured output when the backend supports it.
	ResponseSchema any    `json:"response_schema,omitempty"`
	SchemaName     string `json:"schema_name,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatResponse represents a response from an LLM backend.
type ChatResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// BackendConfig holds configuration for a backend instance.
type BackendConfig struct {
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Kind tags the payload of a Result.
type Kind int

const (
	KindText Kind = iota
	KindActions
)

func (k Kind) String() string {
	if k == KindActions {
		return "actions"
	}
	return "text"
}

// Result is what SendMessage returns: either raw text or decoded actions,
// never both. An empty Actions slice with KindActions means the reply could
// not be parsed even after repair.
type Result struct {
	Role    string
	Kind    Kind
	Text    string
	Actions []schema.CognitiveAction
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
)

// Config is the top-level configuration structure. It is built once at
// startup and passed to every component constructor.
type Config struct {
	Server      ServerConfig      `json:"server"`
	LLM         LLMConfig         `json:"llm"`
	Cache       CacheConfig       `json:"cache"`
	Simulation  SimulationConfig  `json:"simulation"`
	Memory      MemoryConfig      `json:"memory"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	VectorStore VectorStoreConfig `json:"vector_store"`
	Database    DatabaseConfig    `json:"database"`
	Gateway     GatewayConfig     `json:"gateway"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// LLMConfig selects the chat backend and tunes the request and retry policy.
type LLMConfig struct {
	Backend          string  `json:"backend"`
	Model            string  `json:"model"`
	MaxTokens        int     `json:"max_tokens"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
	// Timeout, WaitingTime are in seconds.
	Timeout       float64 `json:"timeout"`
	MaxAttempts   int     `json:"max_attempts"`
	WaitingTime   float64 `json:"waiting_time"`
	BackoffFactor float64 `json:"backoff_factor"`

	OpenAI    BackendConfig `json:"openai"`
	Anthropic BackendConfig `json:"anthropic"`
	Ollama    BackendConfig `json:"ollama"`
	Gemini    BackendConfig `json:"gemini"`
}

// BackendConfig holds per-backend connection settings. Model overrides
// LLMConfig.Model when set.
type BackendConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

type CacheConfig struct {
	Enabled     bool   `json:"enabled"`
	Backend     string `json:"backend"`
	File        string `json:"file"`
	RedisPrefix string `json:"redis_prefix"`
}

type SimulationConfig struct {
	RAIHarmfulContentPrevention        bool   `json:"rai_harmful_content_prevention"`
	RAICopyrightInfringementPrevention bool   `json:"rai_copyright_infringement_prevention"`
	MaxActionsBeforeDone               int    `json:"max_actions_before_done"`
	StepRetries                        int    `json:"step_retries"`
	Display                            bool   `json:"display"`
	TemplatesDir                       string `json:"templates_dir"`
}

type MemoryConfig struct {
	FixedPrefixLength int      `json:"fixed_prefix_length"`
	LookbackLength    int      `json:"lookback_length"`
	TopK              int      `json:"top_k"`
	ChunkSize         int      `json:"chunk_size"`
	ChunkOverlap      int      `json:"chunk_overlap"`
	DocumentsPaths    []string `json:"documents_paths,omitempty"`
	WebURLs           []string `json:"web_urls,omitempty"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type VectorStoreConfig struct {
	Backend    string `json:"backend"`
	Collection string `json:"collection"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type GatewayConfig struct {
	// RESTTimeout is how long, in seconds, an HTTP interview waits for a reply.
	RESTTimeout float64 `json:"rest_timeout"`
	// AvatarBase is a URL prefix; the escaped persona name is appended to
	// form each persona's icon.
	AvatarBase string               `json:"avatar_base,omitempty"`
	Slack      SlackGatewayConfig   `json:"slack"`
	Discord    DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled         bool              `json:"enabled"`
	BotToken        string            `json:"bot_token"`
	AnnounceChannel string            `json:"announce_channel,omitempty"`
	Webhooks        map[string]string `json:"webhooks,omitempty"` // channel ID -> webhook URL
}

var (
	llmBackends         = map[string]bool{"openai": true, "anthropic": true, "ollama": true, "gemini": true}
	cacheBackends       = map[string]bool{"file": true, "redis": true}
	embeddingProviders  = map[string]bool{"api": true, "local": true, "gemini": true, "hash": true}
	vectorStoreBackends = map[string]bool{"memory": true, "qdrant": true, "pgvector": true}
)

// Default returns a configuration with every option set to its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		LLM: LLMConfig{
			Backend:       "openai",
			Model:         "gpt-4o",
			MaxTokens:     1024,
			Temperature:   1.0,
			TopP:          1.0,
			Timeout:       30,
			MaxAttempts:   5,
			WaitingTime:   1,
			BackoffFactor: 5,
			Anthropic:     BackendConfig{Model: "claude-3-5-haiku-latest"},
			Ollama:        BackendConfig{Endpoint: "http://localhost:11434"},
			Gemini:        BackendConfig{Model: "gemini-2.0-flash"},
		},
		Cache: CacheConfig{
			Enabled:     true,
			Backend:     "file",
			File:        "api_cache.json",
			RedisPrefix: "personasim:cache:",
		},
		Simulation: SimulationConfig{
			RAIHarmfulContentPrevention:        true,
			RAICopyrightInfringementPrevention: true,
			MaxActionsBeforeDone:               15,
			StepRetries:                        5,
			Display:                            true,
		},
		Memory: MemoryConfig{
			FixedPrefixLength: 100,
			LookbackLength:    100,
			TopK:              7,
			ChunkSize:         500,
			ChunkOverlap:      50,
		},
		Embedding: EmbeddingConfig{
			Provider: "api",
			Endpoint: "https://api.openai.com/v1",
			Model:    "text-embedding-3-small",
		},
		VectorStore: VectorStoreConfig{Backend: "memory", Collection: "persona_memory"},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over the defaults and substitutes
// environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw JSON config bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads .env.local when present, otherwise .env. Missing files are
// not an error. It returns the file that was loaded, or "".
func LoadEnv() string {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err == nil {
			return name
		}
	}
	return ""
}

// Validate rejects unknown backends and inconsistent window settings.
func (c *Config) Validate() error {
	if !llmBackends[c.LLM.Backend] {
		return fmt.Errorf("unknown llm backend %q (supported: openai, anthropic, ollama, gemini)", c.LLM.Backend)
	}
	if c.Cache.Enabled && !cacheBackends[c.Cache.Backend] {
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if !embeddingProviders[c.Embedding.Provider] {
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if !vectorStoreBackends[c.VectorStore.Backend] {
		return fmt.Errorf("unknown vector store backend %q", c.VectorStore.Backend)
	}
	if c.Memory.ChunkSize <= 0 || c.Memory.ChunkOverlap < 0 || c.Memory.ChunkOverlap >= c.Memory.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, chunk size %d)", c.Memory.ChunkOverlap, c.Memory.ChunkSize)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm max_attempts must be at least 1, got %d", c.LLM.MaxAttempts)
	}
	return nil
}

// BackendSettings returns the connection settings of the selected backend
// with the model resolved.
func (c *LLMConfig) BackendSettings() BackendConfig {
	var b BackendConfig
	switch c.Backend {
	case "openai":
		b = c.OpenAI
	case "anthropic":
		b = c.Anthropic
	case "ollama":
		b = c.Ollama
	case "gemini":
		b = c.Gemini
	}
	if b.Model == "" {
		b.Model = c.Model
	}
	return b
}

func (c *LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout * float64(time.Second))
}

// RESTTimeoutDuration converts RESTTimeout; zero leaves the adapter default.
func (c *GatewayConfig) RESTTimeoutDuration() time.Duration {
	return time.Duration(c.RESTTimeout * float64(time.Second))
}

// WaitDuration is the initial backoff wait. A zero setting means 2s.
func (c *LLMConfig) WaitDuration() time.Duration {
	if c.WaitingTime <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.WaitingTime * float64(time.Second))
}

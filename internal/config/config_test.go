package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("PS_TEST_KEY", "sk-from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	data := `{
		"llm": {"backend": "anthropic", "anthropic": {"api_key": "${PS_TEST_KEY}"}},
		"memory": {"top_k": 3},
		"database": {"redis": {"url": "${PS_TEST_MISSING:redis://localhost:6379}"}}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want sk-from-env", cfg.LLM.Anthropic.APIKey)
	}
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Errorf("redis url = %q, want default", cfg.Database.Redis.URL)
	}
	if cfg.Memory.TopK != 3 {
		t.Errorf("top_k = %d, want 3", cfg.Memory.TopK)
	}
	if cfg.Memory.FixedPrefixLength != 100 || cfg.Memory.LookbackLength != 100 {
		t.Errorf("window defaults lost: %+v", cfg.Memory)
	}
	if got := cfg.LLM.BackendSettings().Model; got != "claude-3-5-haiku-latest" {
		t.Errorf("anthropic model = %q", got)
	}
	if !cfg.Simulation.RAIHarmfulContentPrevention || !cfg.Simulation.RAICopyrightInfringementPrevention {
		t.Error("rai toggles should default to true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.LLM.Backend = "mystery" }},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"overlap too large", func(c *Config) { c.Memory.ChunkOverlap = c.Memory.ChunkSize }},
		{"no attempts", func(c *Config) { c.LLM.MaxAttempts = 0 }},
		{"unknown vector store", func(c *Config) { c.VectorStore.Backend = "chroma" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestWaitDuration(t *testing.T) {
	c := LLMConfig{WaitingTime: 0}
	if got := c.WaitDuration(); got != 2*time.Second {
		t.Errorf("zero waiting time = %v, want 2s", got)
	}
	c.WaitingTime = 0.5
	if got := c.WaitDuration(); got != 500*time.Millisecond {
		t.Errorf("waiting time = %v, want 500ms", got)
	}
}

// Package prompt renders the mustache templates that become system messages.
package prompt

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/cbroglie/mustache"
	"go.uber.org/zap"
)

// Built-in template names.
const (
	AgentTemplate     = "agent.mustache"
	ExtractorTemplate = "extractor.mustache"
	RAIHarmfulContent = "rai_harmful_content_prevention.md"
	RAICopyright      = "rai_copyright_infringement_prevention.md"
)

//go:embed templates/*
var builtin embed.FS

// Renderer loads templates, preferring files in an override directory over
// the embedded defaults, and renders them. Parsed templates are cached.
type Renderer struct {
	dir    string
	cache  map[string]*mustache.Template
	mu     sync.Mutex
	logger *zap.Logger
}

// NewRenderer creates a renderer. dir may be empty.
func NewRenderer(dir string, logger *zap.Logger) *Renderer {
	return &Renderer{
		dir:    dir,
		cache:  make(map[string]*mustache.Template),
		logger: logger,
	}
}

// Source returns the raw text of a named template.
func (r *Renderer) Source(name string) (string, error) {
	if r.dir != "" {
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read template %s: %w", name, err)
		}
	}
	data, err := builtin.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("template %s not found: %w", name, err)
	}
	return string(data), nil
}

// Render renders template text with vars. Missing variables render empty.
// Output is never HTML-escaped.
func (r *Renderer) Render(tmpl string, vars map[string]any) (string, error) {
	t, err := mustache.ParseStringRaw(tmpl, true)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out, err := t.Render(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// RenderNamed renders a named template, caching the parsed form.
func (r *Renderer) RenderNamed(name string, vars map[string]any) (string, error) {
	r.mu.Lock()
	t, ok := r.cache[name]
	r.mu.Unlock()
	if !ok {
		src, err := r.Source(name)
		if err != nil {
			return "", err
		}
		t, err = mustache.ParseStringRaw(src, true)
		if err != nil {
			return "", fmt.Errorf("parse template %s: %w", name, err)
		}
		r.mu.Lock()
		r.cache[name] = t
		r.mu.Unlock()
	}
	out, err := t.Render(vars)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out, nil
}

// RAIToggles selects which responsible-AI blocks are injected.
type RAIToggles struct {
	HarmfulContent bool
	Copyright      bool
}

// AgentState is the cognitive state exposed to the agent template.
type AgentState struct {
	Context       string
	Goals         string
	Attention     string
	Emotions      string
	MemoryContext []string
	Datetime      string
}

// AgentVariables builds the variable map for the agent template. Disabled
// RAI blocks are left out so their section renders empty.
func (r *Renderer) AgentVariables(persona map[string]any, state AgentState, rai RAIToggles) (map[string]any, error) {
	personaJSON, err := json.MarshalIndent(persona, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal persona: %w", err)
	}
	vars := map[string]any{
		"persona":                persona,
		"persona_json":           string(personaJSON),
		"current_context":        state.Context,
		"current_goals":          state.Goals,
		"current_attention":      state.Attention,
		"current_emotions":       state.Emotions,
		"current_memory_context": state.MemoryContext,
		"current_datetime":       state.Datetime,
	}
	if rai.HarmfulContent {
		s, err := r.Source(RAIHarmfulContent)
		if err != nil {
			return nil, err
		}
		vars["rai_harmful_content_prevention"] = s
	}
	if rai.Copyright {
		s, err := r.Source(RAICopyright)
		if err != nil {
			return nil, err
		}
		vars["rai_copyright_infringement_prevention"] = s
	}
	return vars, nil
}

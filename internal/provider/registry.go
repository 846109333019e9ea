package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Factory builds a backend from its configuration.
type Factory func(ctx context.Context, cfg BackendConfig, logger *zap.Logger) (Backend, error)

// Registry maps backend names to constructors.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register("openai", func(_ context.Context, cfg BackendConfig, l *zap.Logger) (Backend, error) {
		return NewOpenAIBackend(cfg, l), nil
	})
	r.Register("anthropic", func(_ context.Context, cfg BackendConfig, l *zap.Logger) (Backend, error) {
		return NewAnthropicBackend(cfg, l), nil
	})
	r.Register("ollama", func(_ context.Context, cfg BackendConfig, l *zap.Logger) (Backend, error) {
		return NewOllamaBackend(cfg, l), nil
	})
	r.Register("gemini", func(ctx context.Context, cfg BackendConfig, l *zap.Logger) (Backend, error) {
		return NewGeminiBackend(ctx, cfg, l)
	})
	return r
}

// Register adds or replaces a backend constructor.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
	r.logger.Debug("registered backend", zap.String("name", name))
}

// New constructs the backend registered under name.
func (r *Registry) New(ctx context.Context, name string, cfg BackendConfig) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (supported: %s)", name, strings.Join(r.Names(), ", "))
	}
	b, err := f(ctx, cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create backend %s: %w", name, err)
	}
	r.logger.Info("backend ready", zap.String("name", name), zap.String("model", cfg.Model))
	return b, nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

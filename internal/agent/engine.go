package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPersonNotFound is returned when a persona ID or name doesn't exist.
var ErrPersonNotFound = errors.New("person not found")

// Status is what a registered persona is currently doing.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActing Status = "acting"
)

// Entry is a registered persona.
type Entry struct {
	ID        string    `json:"id"`
	Person    *Person   `json:"-"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Factory builds a fresh Person with its own memories.
type Factory func(name string) *Person

// Registry holds the personas served by the API and chat surfaces.
type Registry struct {
	entries map[string]*Entry
	factory Factory
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates a registry. factory is used by Create and may be nil
// when personas are only added through Register.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		factory: factory,
		logger:  logger,
	}
}

// Register adds a persona and returns its entry.
func (r *Registry) Register(p *Person) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	e := &Entry{
		ID:        uuid.New().String(),
		Person:    p,
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.entries[e.ID] = e
	r.logger.Info("registered persona",
		zap.String("id", e.ID),
		zap.String("name", p.Name()))
	return e
}

// Create builds a persona from a profile map and registers it. The profile
// must carry a non-empty name.
func (r *Registry) Create(profile map[string]any) (*Entry, error) {
	if r.factory == nil {
		return nil, errors.New("registry: no persona factory configured")
	}
	name, _ := profile["name"].(string)
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("registry: profile has no name")
	}
	p := r.factory(name)
	if err := p.Persona().DefineAll(profile); err != nil {
		return nil, fmt.Errorf("define persona %s: %w", name, err)
	}
	return r.Register(p), nil
}

// Get returns a persona by ID.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// GetByName returns the oldest persona whose name matches, ignoring case.
func (r *Registry) GetByName(name string) (*Entry, bool) {
	for _, e := range r.List() {
		if strings.EqualFold(e.Person.Name(), name) {
			return e, true
		}
	}
	return nil, false
}

// List returns all registered personas, oldest first.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	result := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, e)
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// ListenAndAct delivers message to the persona and records the exchange.
func (r *Registry) ListenAndAct(ctx context.Context, id, message string) (*Trace, error) {
	e, ok := r.Get(id)
	if !ok {
		return nil, ErrPersonNotFound
	}

	trace := &Trace{
		ID:        uuid.New().String(),
		PersonID:  id,
		Persona:   e.Person.Name(),
		Stimulus:  message,
		StartedAt: time.Now(),
	}

	r.setStatus(id, StatusActing)
	defer r.setStatus(id, StatusIdle)

	actions, err := e.Person.ListenAndAct(ctx, message)
	trace.Actions = actions
	trace.Duration = time.Since(trace.StartedAt)
	if err != nil {
		return trace, err
	}
	r.logger.Debug("persona acted",
		zap.String("id", id),
		zap.Int("actions", len(actions)),
		zap.Duration("duration", trace.Duration))
	return trace, nil
}

// StatusOf returns a persona's current status.
func (r *Registry) StatusOf(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.Status, true
}

func (r *Registry) setStatus(id string, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.Status = s
		e.UpdatedAt = time.Now()
	}
}

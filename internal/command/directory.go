package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/persona-sim/internal/agent"
	"github.com/nidhogg/persona-sim/internal/memory"
)

const (
	recallTopK      = 5
	memoryTextLimit = 200
)

// Directory exposes an agent.Registry to the persona commands. Personas
// are addressed by ID or, case-insensitively, by name.
type Directory struct {
	registry *agent.Registry
}

// NewDirectory wraps a registry.
func NewDirectory(r *agent.Registry) *Directory {
	return &Directory{registry: r}
}

func (d *Directory) lookup(persona string) (*agent.Entry, error) {
	if e, ok := d.registry.Get(persona); ok {
		return e, nil
	}
	if e, ok := d.registry.GetByName(persona); ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", agent.ErrPersonNotFound, persona)
}

func info(e *agent.Entry) PersonaInfo {
	pi := PersonaInfo{ID: e.ID, Name: e.Person.Name(), Status: string(e.Status)}
	if v, ok := e.Person.Persona().Get("occupation"); ok {
		pi.Occupation = fmt.Sprint(v)
	}
	return pi
}

// List implements PersonaLister.
func (d *Directory) List() []PersonaInfo {
	entries := d.registry.List()
	out := make([]PersonaInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, info(e))
	}
	return out
}

// Create implements PersonaAdmin.
func (d *Directory) Create(profile map[string]any) (PersonaInfo, error) {
	e, err := d.registry.Create(profile)
	if err != nil {
		return PersonaInfo{}, err
	}
	return info(e), nil
}

// Profile implements PersonaAdmin.
func (d *Directory) Profile(persona string) (map[string]any, error) {
	e, err := d.lookup(persona)
	if err != nil {
		return nil, err
	}
	return e.Person.Persona().Map(), nil
}

// SetContext implements MemoryInspector.
func (d *Directory) SetContext(_ context.Context, persona, situation string) error {
	e, err := d.lookup(persona)
	if err != nil {
		return err
	}
	e.Person.SetContext(situation)
	return nil
}

// Recent implements MemoryInspector. Each event is rendered as
// "[type] text" with long contents cut short.
func (d *Directory) Recent(_ context.Context, persona string, n int) ([]string, error) {
	e, err := d.lookup(persona)
	if err != nil {
		return nil, err
	}
	events := e.Person.Episodic().Retrieve(0, n, false)
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, describeEvent(ev))
	}
	return out, nil
}

func describeEvent(e memory.Event) string {
	typ := string(e.Type)
	if typ == "" {
		typ = e.Role
	}
	return fmt.Sprintf("[%s] %s", typ, e.Truncated(memoryTextLimit).Text())
}

// Recall implements MemoryInspector.
func (d *Directory) Recall(ctx context.Context, persona, query string) (string, error) {
	e, err := d.lookup(persona)
	if err != nil {
		return "", err
	}
	sem := e.Person.Semantic()
	if sem == nil {
		return "", fmt.Errorf("%s has no semantic memory", e.Person.Name())
	}
	hits, err := sem.RetrieveRelevant(ctx, query, recallTopK)
	if err != nil {
		return "", err
	}
	return strings.Join(hits, "\n\n"), nil
}

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownPersonaKey is returned when defining an attribute outside the
// persona schema.
var ErrUnknownPersonaKey = errors.New("unknown persona key")

// PersonaKeys enumerates the attributes a persona may define.
var PersonaKeys = map[string]bool{
	"name":                   true,
	"age":                    true,
	"gender":                 true,
	"nationality":            true,
	"country_of_residence":   true,
	"residence":              true,
	"city_of_residence":      true,
	"ethnicity":              true,
	"education":              true,
	"occupation":             true,
	"job_description":        true,
	"income":                 true,
	"income_level":           true,
	"employment_status":      true,
	"household_size":         true,
	"household_type":         true,
	"marital_status":         true,
	"languages":              true,
	"long_term_goals":        true,
	"style":                  true,
	"routines":               true,
	"personality_traits":     true,
	"professional_interests": true,
	"personal_interests":     true,
	"skills":                 true,
	"relationships":          true,
	"beliefs":                true,
	"preferences":            true,
	"behaviors":              true,
	"health":                 true,
	"other_facts":            true,
}

// Persona is a validated attribute map describing who an agent is.
type Persona struct {
	mu    sync.RWMutex
	attrs map[string]any
}

// NewPersona creates a persona with only its name set.
func NewPersona(name string) *Persona {
	return &Persona{attrs: map[string]any{"name": name}}
}

// Define sets one attribute. String values are dedented so indented
// multi-line literals read cleanly in prompts.
func (p *Persona) Define(key string, value any) error {
	if !PersonaKeys[key] {
		return fmt.Errorf("%w: %q", ErrUnknownPersonaKey, key)
	}
	if s, ok := value.(string); ok {
		value = dedent(s)
	}
	p.mu.Lock()
	p.attrs[key] = value
	p.mu.Unlock()
	return nil
}

// DefineAll defines every entry of profile, stopping at the first invalid
// key. Keys are applied in sorted order so failures are deterministic.
func (p *Persona) DefineAll(profile map[string]any) error {
	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := p.Define(k, profile[k]); err != nil {
			return err
		}
	}
	return nil
}

// Get returns one attribute.
func (p *Persona) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.attrs[key]
	return v, ok
}

// Name returns the persona's name attribute.
func (p *Persona) Name() string {
	v, _ := p.Get("name")
	s, _ := v.(string)
	return s
}

// Map returns a shallow copy of all attributes.
func (p *Persona) Map() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.attrs))
	for k, v := range p.attrs {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the attribute map.
func (p *Persona) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

// dedent removes the longest common leading whitespace from every
// non-blank line. Whitespace-only lines become empty.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	prefix := ""
	first := true
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
			continue
		}
		indent := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		if first {
			prefix = indent
			first = false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if prefix == "" {
		return strings.Join(lines, "\n")
	}
	for i, l := range lines {
		lines[i] = strings.TrimPrefix(l, prefix)
	}
	return strings.Join(lines, "\n")
}

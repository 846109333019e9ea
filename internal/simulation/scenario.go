// Package simulation runs scenario files against a set of personas and
// summarizes their answers.
package simulation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMissingField is returned when a scenario lacks a required field.
var ErrMissingField = errors.New("missing required field")

// Option is one stimulus the personas choose between.
type Option struct {
	Content string `yaml:"content" json:"content"`
}

// UnmarshalYAML accepts either {content: ...} or a bare string.
func (o *Option) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		o.Content = n.Value
		return nil
	}
	type plain Option
	return n.Decode((*plain)(o))
}

// Scenario is a launch file. Agent may be nil (the Joe preset), an inline
// profile map, a path to a CSV or profile file, or a count of random
// personas.
type Scenario struct {
	Project   string   `yaml:"project" json:"project"`
	Situation string   `yaml:"situation" json:"situation"`
	Options   []Option `yaml:"options" json:"options"`
	Questions string   `yaml:"questions" json:"questions"`
	Agent     any      `yaml:"agent" json:"agent,omitempty"`

	// Path is where the scenario was read from, empty for inline scenarios.
	Path string `yaml:"-" json:"-"`
}

// LoadScenario reads a YAML or JSON scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	sc.Path = path
	return sc, nil
}

// ParseScenario decodes and validates a scenario. JSON is valid YAML, so
// one decoder handles both.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the required fields.
func (s *Scenario) Validate() error {
	switch {
	case strings.TrimSpace(s.Situation) == "":
		return fmt.Errorf("%w: situation", ErrMissingField)
	case len(s.Options) == 0:
		return fmt.Errorf("%w: options", ErrMissingField)
	case strings.TrimSpace(s.Questions) == "":
		return fmt.Errorf("%w: questions", ErrMissingField)
	}
	for i, o := range s.Options {
		if strings.TrimSpace(o.Content) == "" {
			return fmt.Errorf("%w: options[%d].content", ErrMissingField, i)
		}
	}
	return nil
}

// FormattedOptions numbers the options from 1 as "#option-N content".
func (s *Scenario) FormattedOptions() []string {
	out := make([]string, len(s.Options))
	for i, o := range s.Options {
		out[i] = fmt.Sprintf("#option-%d %s", i+1, o.Content)
	}
	return out
}

// Request is the message every persona hears: the questions, then the
// options separated by blank lines.
func (s *Scenario) Request() string {
	return s.Questions + "\n" + strings.Join(s.FormattedOptions(), "\n\n")
}

// ResponsesPath is where responses to a scenario file are written.
func (s *Scenario) ResponsesPath() string {
	if s.Path == "" {
		return ""
	}
	stem := strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
	return filepath.Join(filepath.Dir(s.Path), stem+"_responses.json")
}

// resolve returns p relative to the scenario's directory when it does not
// exist as given.
func (s *Scenario) resolve(p string) string {
	if filepath.IsAbs(p) || s.Path == "" {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return filepath.Join(filepath.Dir(s.Path), p)
}

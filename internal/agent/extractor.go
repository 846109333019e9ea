package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/nidhogg/persona-sim/internal/prompt"
	"github.com/nidhogg/persona-sim/internal/provider"
	"go.uber.org/zap"
)

// DefaultExtractionObjective is used when a request names none.
const DefaultExtractionObjective = "The main points present in the agent's interactions history."

// ExtractionRequest describes what to pull out of a persona's history.
type ExtractionRequest struct {
	Objective   string
	Situation   string
	Fields      []string
	FieldsHints map[string]string
}

// Extractor asks the model to turn a persona's interaction history into a
// structured result.
type Extractor struct {
	client   *provider.Client
	renderer *prompt.Renderer
	logger   *zap.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(client *provider.Client, renderer *prompt.Renderer, logger *zap.Logger) *Extractor {
	return &Extractor{client: client, renderer: renderer, logger: logger}
}

// ExtractAll runs Extract for every person, in order.
func (x *Extractor) ExtractAll(ctx context.Context, people []*Person, req ExtractionRequest) ([]any, error) {
	out := make([]any, 0, len(people))
	for _, p := range people {
		r, err := x.Extract(ctx, p, req)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Extract returns the JSON value the model extracted from p's history, or
// nil when the model is unavailable or replies with nothing parseable.
// Invalid requests are returned as errors.
func (x *Extractor) Extract(ctx context.Context, p *Person, req ExtractionRequest) (any, error) {
	if req.Objective == "" {
		req.Objective = DefaultExtractionObjective
	}
	vars := map[string]any{
		"extraction_objective": req.Objective,
		"situation":            req.Situation,
	}
	if len(req.Fields) > 0 {
		vars["has_fields"] = true
		vars["fields"] = req.Fields
	}
	if len(req.FieldsHints) > 0 {
		names := make([]string, 0, len(req.FieldsHints))
		for n := range req.FieldsHints {
			names = append(names, n)
		}
		sort.Strings(names)
		hints := make([]map[string]string, len(names))
		for i, n := range names {
			hints[i] = map[string]string{"name": n, "hint": req.FieldsHints[n]}
		}
		vars["has_fields"] = true
		vars["has_hints"] = true
		vars["fields_hints"] = hints
	}
	system, err := x.renderer.RenderNamed(prompt.ExtractorTemplate, vars)
	if err != nil {
		return nil, err
	}

	history, err := json.MarshalIndent(p.Episodic().All(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	user := fmt.Sprintf(`## Extraction objective

%s

## Situation
You are considering a single agent, named %s. Your objective thus refers to this agent specifically.
%s

## Agent Interactions History

You will consider an agent's history of interactions, which include stimuli it received as well as actions it
performed.

%s
`, req.Objective, p.Name(), req.Situation, history)

	res, err := x.client.SendMessage(ctx,
		[]provider.Message{{Role: provider.RoleUser, Content: user}},
		provider.WithSystemMessage(system),
	)
	if err != nil {
		if errors.Is(err, provider.ErrAttemptsExhausted) {
			x.logger.Warn("extraction failed, model unavailable", zap.String("persona", p.Name()), zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("extract from %s: %w", p.Name(), err)
	}
	x.logger.Debug("extraction raw result", zap.String("persona", p.Name()), zap.String("content", res.Text))

	return provider.ExtractLooseJSON(res.Text), nil
}

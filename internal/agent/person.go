package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/persona-sim/internal/memory"
	"github.com/nidhogg/persona-sim/internal/prompt"
	"github.com/nidhogg/persona-sim/internal/provider"
	"github.com/nidhogg/persona-sim/internal/schema"
	"go.uber.org/zap"
)

// Loop limits and retrieval defaults.
const (
	DefaultMaxActionsBeforeDone = 15
	DefaultStepRetries          = 5
	DefaultTopK                 = 7

	relevanceRecentEvents = 10
	relevanceContentLimit = 100

	cognitiveActionSchemaName = "cognitive_action"
)

// actInstruction closes every prompt and asks for the next action sequence.
const actInstruction = "**must** gen actions sequence following your interaction directives, " +
	"and comply **all** instructions and contraints related to the action you use. " +
	"DO NOT repeat the exact same action more than once in a row! " +
	"These actions **MUST** be rendered following the JSON specification perfectly, " +
	"including all required keys (even if their value is empty), **ALWAYS**."

// Options tunes the cognitive loop.
type Options struct {
	MaxActionsBeforeDone int
	StepRetries          int
	TopK                 int
	RAI                  prompt.RAIToggles
}

func (o *Options) defaults() {
	if o.MaxActionsBeforeDone <= 0 {
		o.MaxActionsBeforeDone = DefaultMaxActionsBeforeDone
	}
	if o.StepRetries <= 0 {
		o.StepRetries = DefaultStepRetries
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
}

// Deps are the collaborators a Person needs. Display and Environment are
// optional.
type Deps struct {
	Client      *provider.Client
	Renderer    *prompt.Renderer
	Episodic    *memory.Episodic
	Semantic    *memory.Semantic
	Environment *Environment
	Display     *Display
	Logger      *zap.Logger
}

// Person is a simulated participant: a persona, its cognitive state, its
// memories and the model client that decides what it does next. Calls on
// one Person are serialized.
type Person struct {
	mu sync.Mutex

	persona  *Persona
	state    prompt.AgentState
	episodic *memory.Episodic
	semantic *memory.Semantic
	env      *Environment
	client   *provider.Client
	renderer *prompt.Renderer
	display  *Display
	actions  []schema.Action
	opts     Options
	logger   *zap.Logger
}

// NewPerson creates a persona named name.
func NewPerson(name string, deps Deps, opts Options) *Person {
	opts.defaults()
	if deps.Environment == nil {
		deps.Environment = NewEnvironment(time.Time{})
	}
	if deps.Episodic == nil {
		deps.Episodic = memory.NewEpisodic(0, 0)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Person{
		persona:  NewPersona(name),
		episodic: deps.Episodic,
		semantic: deps.Semantic,
		env:      deps.Environment,
		client:   deps.Client,
		renderer: deps.Renderer,
		display:  deps.Display,
		opts:     opts,
		logger:   logger.With(zap.String("persona", name)),
	}
	p.state.Datetime = p.env.Now().Format(time.RFC3339)
	return p
}

// Name returns the persona name.
func (p *Person) Name() string { return p.persona.Name() }

// Persona exposes the persona attributes.
func (p *Person) Persona() *Persona { return p.persona }

// Define sets a persona attribute.
func (p *Person) Define(key string, value any) error { return p.persona.Define(key, value) }

// Episodic returns the persona's episodic memory.
func (p *Person) Episodic() *memory.Episodic { return p.episodic }

// Semantic returns the persona's semantic memory, which may be nil.
func (p *Person) Semantic() *memory.Semantic { return p.semantic }

// Environment returns the persona's world clock.
func (p *Person) Environment() *Environment { return p.env }

// SetContext replaces the current situation description.
func (p *Person) SetContext(c string) {
	p.mu.Lock()
	p.state.Context = dedent(c)
	p.mu.Unlock()
}

// State returns a copy of the current cognitive state.
func (p *Person) State() prompt.AgentState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.MemoryContext = append([]string(nil), p.state.MemoryContext...)
	return s
}

// PopActions returns and clears the actions not yet consumed.
func (p *Person) PopActions() []schema.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.actions
	p.actions = nil
	return out
}

// ListenAndAct hears message and acts on it, returning the action trace.
func (p *Person) ListenAndAct(ctx context.Context, message string) ([]schema.CognitiveAction, error) {
	if err := p.Listen(ctx, message); err != nil {
		return nil, err
	}
	return p.Act(ctx)
}

// Listen records message as a CONVERSATION stimulus with no source.
func (p *Person) Listen(ctx context.Context, message string) error {
	return p.Observe(ctx, schema.Stimulus{Type: schema.StimulusConversation, Content: message})
}

// Observe records one stimulus.
func (p *Person) Observe(ctx context.Context, s schema.Stimulus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := schema.StimulusBatch{Stimuli: []schema.Stimulus{s}}
	e, err := memory.NewStimulusEvent(provider.RoleUser, batch, p.env.Now())
	if err != nil {
		return fmt.Errorf("encode stimulus: %w", err)
	}
	p.store(ctx, e)
	if p.display != nil {
		p.display.Stimuli(p.Name(), batch)
	}
	return nil
}

// Act runs the cognitive loop until the persona emits DONE. The loop also
// stops, returning what it has, when more than MaxActionsBeforeDone actions
// were produced, when the last three actions are identical, when the model
// produces nothing usable, or when the backend fails. A backend failure is
// returned as an error only when no action was produced. Exhausted
// missing-key retries are returned as errors along with the partial trace.
func (p *Person) Act(ctx context.Context) ([]schema.CognitiveAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var contents []schema.CognitiveAction
	for len(contents) == 0 || contents[len(contents)-1].Action.Type != schema.ActionDone {
		if len(contents) > p.opts.MaxActionsBeforeDone {
			p.logger.Warn("persona is not stopping, ending the action loop", zap.Int("actions", len(contents)))
			break
		}
		if len(contents) >= 3 && repeating(contents) {
			p.logger.Warn("persona is acting in a loop, ending the action loop", zap.Int("actions", len(contents)))
			break
		}

		produced, err := p.actOnce(ctx)
		if err != nil {
			if !provider.IsProviderFailure(err) {
				return contents, err
			}
			if len(contents) == 0 {
				return nil, err
			}
			p.logger.Warn("model unavailable, returning partial actions",
				zap.Int("actions", len(contents)), zap.Error(err))
			break
		}
		if len(produced) == 0 {
			p.logger.Warn("model produced no actions, ending the action loop")
			break
		}
		contents = append(contents, produced...)
	}
	return contents, nil
}

// repeating reports whether the last three actions are identical.
func repeating(c []schema.CognitiveAction) bool {
	n := len(c)
	return c[n-1].Action == c[n-2].Action && c[n-2].Action == c[n-3].Action
}

// actOnce is one produce-persist-update step, repeated while the model
// returns records missing required keys.
func (p *Person) actOnce(ctx context.Context) ([]schema.CognitiveAction, error) {
	var (
		role    string
		records []schema.CognitiveAction
		err     error
	)
	for attempt := 1; attempt <= p.opts.StepRetries; attempt++ {
		role, records, err = p.produce(ctx)
		if err == nil {
			break
		}
		if !errors.Is(err, schema.ErrMissingKey) {
			return nil, err
		}
		p.logger.Warn("model reply missing required keys, retrying step",
			zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil {
		return nil, fmt.Errorf("produce action after %d attempts: %w", p.opts.StepRetries, err)
	}

	for _, rec := range records {
		e, err := memory.NewActionEvent(role, rec, p.env.Now())
		if err != nil {
			return nil, fmt.Errorf("encode action: %w", err)
		}
		p.store(ctx, e)
		p.actions = append(p.actions, rec.Action)
		p.updateCognitiveState(ctx, rec.CognitiveState)
		p.logger.Debug("action produced",
			zap.String("type", rec.Action.Type),
			zap.String("target", rec.Action.Target))
		if p.display != nil {
			p.display.Action(p.Name(), rec)
		}
	}
	return records, nil
}

// produce assembles the prompt and asks the model for the next records.
func (p *Person) produce(ctx context.Context) (string, []schema.CognitiveAction, error) {
	p.state.MemoryContext = p.relevantMemories(ctx)
	system, err := p.systemPrompt()
	if err != nil {
		return "", nil, err
	}
	messages := p.messages()

	s, err := schema.CognitiveActionSchema()
	if err != nil {
		return "", nil, err
	}
	p.logger.Debug("sending messages", zap.Int("messages", len(messages)))
	res, err := p.client.SendMessage(ctx, messages,
		provider.WithSystemMessage(system),
		provider.WithResponseSchema(cognitiveActionSchemaName, s),
	)
	if err != nil {
		return "", nil, err
	}
	return res.Role, res.Actions, nil
}

// systemPrompt renders the agent template from persona and state.
func (p *Person) systemPrompt() (string, error) {
	vars, err := p.renderer.AgentVariables(p.persona.Map(), p.state, p.opts.RAI)
	if err != nil {
		return "", err
	}
	return p.renderer.RenderNamed(prompt.AgentTemplate, vars)
}

// messages is the recent episodic window followed by the act instruction.
func (p *Person) messages() []provider.Message {
	recent := p.episodic.RetrieveRecent(true)
	msgs := make([]provider.Message, 0, len(recent)+1)
	for _, e := range recent {
		msgs = append(msgs, provider.Message{Role: e.Role, Content: string(e.Content)})
	}
	return append(msgs, provider.Message{Role: provider.RoleUser, Content: actInstruction})
}

// Messages returns the full prompt the next step would send, system first.
func (p *Person) Messages() ([]provider.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	system, err := p.systemPrompt()
	if err != nil {
		return nil, err
	}
	return append([]provider.Message{{Role: provider.RoleSystem, Content: system}}, p.messages()...), nil
}

// store appends to episodic memory and indexes the engram. Semantic
// indexing failures degrade retrieval but do not stop the loop.
func (p *Person) store(ctx context.Context, e memory.Event) {
	p.episodic.Store(e)
	if p.semantic == nil {
		return
	}
	if err := p.semantic.Store(ctx, e); err != nil {
		p.logger.Warn("semantic memory store failed", zap.Error(err))
	}
}

func (p *Person) updateCognitiveState(ctx context.Context, cs schema.CognitiveState) {
	p.state.Datetime = p.env.Now().Format("2006-01-02 15:04")
	p.state.Goals = cs.Goals
	p.state.Attention = cs.Attention
	p.state.Emotions = cs.Emotions
	p.state.MemoryContext = p.relevantMemories(ctx)
}

func (p *Person) relevantMemories(ctx context.Context) []string {
	if p.semantic == nil {
		return nil
	}
	out, err := p.semantic.RetrieveRelevant(ctx, p.relevanceQuery(), p.opts.TopK)
	if err != nil {
		p.logger.Warn("relevant memory retrieval failed", zap.Error(err))
		return p.state.MemoryContext
	}
	return out
}

// RelevanceQuery is the text used to search semantic memory for the
// current situation.
func (p *Person) RelevanceQuery() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.relevanceQuery()
}

func (p *Person) relevanceQuery() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current Context: %s\n", p.state.Context)
	fmt.Fprintf(&b, "Current Goals: %s\n", p.state.Goals)
	fmt.Fprintf(&b, "Current Attention: %s\n", p.state.Attention)
	fmt.Fprintf(&b, "Current Emotions: %s\n", p.state.Emotions)
	b.WriteString("Recent Memories:\n")
	for _, e := range p.episodic.Retrieve(0, relevanceRecentEvents, true) {
		fmt.Fprintf(&b, "  - %s\n", e.Truncated(relevanceContentLimit).Text())
	}
	return b.String()
}

// TalkContent joins the content of the TALK actions in a trace.
func TalkContent(trace []schema.CognitiveAction) string {
	var parts []string
	for _, rec := range trace {
		if rec.Action.Type == schema.ActionTalk && rec.Action.Content != "" {
			parts = append(parts, rec.Action.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

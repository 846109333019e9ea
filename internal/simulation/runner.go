package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/persona-sim/internal/agent"
	"github.com/nidhogg/persona-sim/internal/events"
	"github.com/nidhogg/persona-sim/internal/memory"
	"github.com/nidhogg/persona-sim/internal/schema"
	"github.com/nidhogg/persona-sim/internal/store"
)

// defaultPersonaName names profiles that carry no name of their own.
const defaultPersonaName = "Budi"

// DefaultFields are extracted from every persona after it answers.
var DefaultFields = []string{"ad_number", "ad_title"}

// RunStore persists runs. *store.Store implements it.
type RunStore interface {
	CreateRun(ctx context.Context, r *store.Run) error
	FinishRun(ctx context.Context, id string, runErr error) error
	SaveResponse(ctx context.Context, r *store.Response) error
	SaveSnapshot(ctx context.Context, persona, runID string, events []byte) error
}

// Publisher announces run progress. *events.Bus implements it.
type Publisher interface {
	PublishPayload(ctx context.Context, runID, typ, persona string, payload any) error
}

// TraceExporter copies a persona's episodic log elsewhere.
// *memory.GraphExporter implements it.
type TraceExporter interface {
	ExportTrace(ctx context.Context, runID, persona string, events []memory.Event) error
}

// Result is what one persona did.
type Result struct {
	Persona    string                   `json:"persona"`
	Actions    []schema.CognitiveAction `json:"actions"`
	Talk       string                   `json:"talk"`
	Extraction any                      `json:"extraction"`
	Error      string                   `json:"error,omitempty"`
}

// Report is the outcome of one run.
type Report struct {
	RunID      string   `json:"run_id"`
	Project    string   `json:"project,omitempty"`
	Situation  string   `json:"situation"`
	Request    string   `json:"request"`
	Results    []Result `json:"results"`
	OutputPath string   `json:"output_path,omitempty"`
}

// Runner plays a scenario to each persona in turn.
type Runner struct {
	newPerson  agent.Factory
	extractor  *agent.Extractor
	fields     []string
	hints      map[string]string
	store      RunStore
	publishers []Publisher
	exporter   TraceExporter
	rng        *rand.Rand
	logger     *zap.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithStore persists runs, responses and episodic snapshots.
func WithStore(s RunStore) RunnerOption { return func(r *Runner) { r.store = s } }

// WithPublisher announces progress. It may be given more than once.
func WithPublisher(p Publisher) RunnerOption {
	return func(r *Runner) { r.publishers = append(r.publishers, p) }
}

// WithTraceExporter exports every persona's episodic log after it acts.
func WithTraceExporter(e TraceExporter) RunnerOption { return func(r *Runner) { r.exporter = e } }

// WithRand sets the source used to generate random personas.
func WithRand(rng *rand.Rand) RunnerOption { return func(r *Runner) { r.rng = rng } }

// WithFields overrides the extracted fields and their hints.
func WithFields(fields []string, hints map[string]string) RunnerOption {
	return func(r *Runner) {
		r.fields = fields
		r.hints = hints
	}
}

// NewRunner creates a runner. extractor may be nil to skip extraction.
func NewRunner(newPerson agent.Factory, extractor *agent.Extractor, logger *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		newPerson: newPerson,
		extractor: extractor,
		fields:    DefaultFields,
		logger:    logger,
	}
	for _, o := range opts {
		o(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return r
}

// Profiles resolves the scenario's agent definition into persona profiles.
func (r *Runner) Profiles(sc *Scenario) ([]map[string]any, error) {
	switch a := sc.Agent.(type) {
	case nil:
		r.logger.Info("agent is not defined, using predefined agent Joe the Analyst")
		return []map[string]any{agent.JoeProfile()}, nil
	case map[string]any:
		return []map[string]any{a}, nil
	case string:
		path := sc.resolve(a)
		if agent.IsProfileFile(path) {
			p, err := agent.LoadProfileFile(path)
			if err != nil {
				return nil, err
			}
			return []map[string]any{p}, nil
		}
		return agent.LoadProfilesCSV(path)
	case int:
		if a <= 0 {
			return nil, fmt.Errorf("agent count must be positive, got %d", a)
		}
		out := make([]map[string]any, a)
		for i := range out {
			out[i] = agent.GeneratePersona(r.rng)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid agent definition of type %T: must be a map, file path or integer", sc.Agent)
	}
}

// People builds one Person per profile.
func (r *Runner) People(profiles []map[string]any) ([]*agent.Person, error) {
	people := make([]*agent.Person, 0, len(profiles))
	for i, profile := range profiles {
		name, _ := profile["name"].(string)
		if name == "" {
			name = defaultPersonaName
		}
		p := r.newPerson(name)
		if err := p.Persona().DefineAll(profile); err != nil {
			return nil, fmt.Errorf("profile %d: %w", i+1, err)
		}
		people = append(people, p)
	}
	return people, nil
}

// Run plays sc to every persona it defines. Persona failures are collected
// and returned together after every persona has been tried; the responses
// file is written either way.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	profiles, err := r.Profiles(sc)
	if err != nil {
		return nil, err
	}
	people, err := r.People(profiles)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Project:   sc.Project,
		Situation: sc.Situation,
		Request:   sc.Request(),
	}
	if r.store != nil {
		run := &store.Run{ID: report.RunID, Scenario: sc.Path, Situation: sc.Situation, Request: report.Request}
		if err := r.store.CreateRun(ctx, run); err != nil {
			return nil, err
		}
	}
	r.publish(ctx, report.RunID, events.RunStarted, "", map[string]any{
		"project":  sc.Project,
		"personas": len(people),
	})
	r.logger.Info("simulation started",
		zap.String("run", report.RunID),
		zap.Int("personas", len(people)))

	var errs []error
	for i, p := range people {
		res, err := r.runOne(ctx, report, i, p)
		report.Results = append(report.Results, res)
		if err != nil {
			if ctx.Err() != nil {
				errs = append(errs, err)
				break
			}
			errs = append(errs, fmt.Errorf("persona %s: %w", p.Name(), err))
		}
	}
	runErr := errors.Join(errs...)

	if path := sc.ResponsesPath(); path != "" {
		if err := SaveResponses(path, report.Results); err != nil {
			runErr = errors.Join(runErr, err)
		} else {
			report.OutputPath = path
			r.logger.Info("responses saved", zap.String("path", path))
		}
	}
	if r.store != nil {
		if err := r.store.FinishRun(context.WithoutCancel(ctx), report.RunID, runErr); err != nil {
			r.logger.Warn("finish run failed", zap.Error(err))
		}
	}
	r.publish(ctx, report.RunID, events.RunFinished, "", map[string]any{
		"responses": len(report.Results),
		"failed":    len(errs),
	})
	return report, runErr
}

func (r *Runner) runOne(ctx context.Context, report *Report, seq int, p *agent.Person) (Result, error) {
	res := Result{Persona: p.Name()}
	p.SetContext(report.Situation)
	actions, err := p.ListenAndAct(ctx, report.Request)
	res.Actions = actions
	res.Talk = agent.TalkContent(actions)
	if err != nil {
		res.Error = err.Error()
		r.publish(ctx, report.RunID, events.PersonaFailed, p.Name(), map[string]string{"error": err.Error()})
		return res, err
	}

	if r.extractor != nil {
		out, err := r.extractor.Extract(ctx, p, agent.ExtractionRequest{
			Situation:   report.Situation,
			Fields:      r.fields,
			FieldsHints: r.hints,
		})
		if err != nil {
			res.Error = err.Error()
			return res, err
		}
		res.Extraction = out
	}
	r.logger.Info("persona answered",
		zap.String("persona", p.Name()),
		zap.Int("actions", len(actions)),
		zap.Any("extraction", res.Extraction))

	r.persist(ctx, report.RunID, seq, p, res)
	r.publish(ctx, report.RunID, events.PersonaActed, p.Name(), res)
	return res, nil
}

// persist writes the response, the episodic snapshot and the exported
// trace. Failures are logged; the answer itself is already in the report.
func (r *Runner) persist(ctx context.Context, runID string, seq int, p *agent.Person, res Result) {
	if r.store != nil {
		actions, err := json.Marshal(res.Actions)
		if err == nil {
			var extraction []byte
			if res.Extraction != nil {
				extraction, err = json.Marshal(res.Extraction)
			}
			if err == nil {
				err = r.store.SaveResponse(ctx, &store.Response{
					RunID:      runID,
					Seq:        seq,
					Persona:    p.Name(),
					Actions:    actions,
					Talk:       res.Talk,
					Extraction: extraction,
				})
			}
		}
		if err != nil {
			r.logger.Warn("save response failed", zap.String("persona", p.Name()), zap.Error(err))
		}

		snap, err := p.Episodic().Snapshot()
		if err == nil {
			err = r.store.SaveSnapshot(ctx, p.Name(), runID, snap)
		}
		if err != nil {
			r.logger.Warn("save episodic snapshot failed", zap.String("persona", p.Name()), zap.Error(err))
		}
	}
	if r.exporter != nil {
		if err := r.exporter.ExportTrace(ctx, runID, p.Name(), p.Episodic().All()); err != nil {
			r.logger.Warn("export trace failed", zap.String("persona", p.Name()), zap.Error(err))
		}
	}
}

func (r *Runner) publish(ctx context.Context, runID, typ, persona string, payload any) {
	for _, p := range r.publishers {
		if err := p.PublishPayload(ctx, runID, typ, persona, payload); err != nil {
			r.logger.Warn("publish event failed", zap.String("type", typ), zap.Error(err))
		}
	}
}

// SaveResponses writes results keyed by persona name. Repeated names get a
// numeric suffix so no answer is lost.
func SaveResponses(path string, results []Result) error {
	byName := make(map[string]Result, len(results))
	for _, res := range results {
		key := res.Persona
		for n := 2; ; n++ {
			if _, taken := byName[key]; !taken {
				break
			}
			key = fmt.Sprintf("%s (%d)", res.Persona, n)
		}
		byName[key] = res
	}
	data, err := json.MarshalIndent(byName, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write responses: %w", err)
	}
	return nil
}

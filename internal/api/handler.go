// Package api serves personas and simulation runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/persona-sim/internal/agent"
	"github.com/nidhogg/persona-sim/internal/events"
	"github.com/nidhogg/persona-sim/internal/gateway"
	"github.com/nidhogg/persona-sim/internal/memory"
	"github.com/nidhogg/persona-sim/internal/simulation"
	"github.com/nidhogg/persona-sim/internal/store"
	"go.uber.org/zap"
)

// maxScenarioBytes caps the size of a posted scenario.
const maxScenarioBytes = 1 << 20

// RunReader reads stored simulation runs. *store.Store implements it.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*store.Run, error)
	ListResponses(ctx context.Context, runID string) ([]*store.Response, error)
}

// PersonaSaver persists created personas. *store.Store implements it.
type PersonaSaver interface {
	SavePersona(ctx context.Context, id, name string, profile map[string]any) error
}

// EventHistory replays a run's progress events. *events.Bus implements it.
type EventHistory interface {
	History(ctx context.Context, runID string) ([]*events.Event, error)
}

// Deps are the collaborators the handler serves. Only Registry is
// required; routes whose dependency is missing answer 503.
type Deps struct {
	Registry    *agent.Registry
	Runner      *simulation.Runner
	Runs        RunReader
	Personas    PersonaSaver
	Events      EventHistory
	Broadcaster *gateway.Broadcaster
	RESTGateway *gateway.RESTAdapter
	Gateway     *gateway.Gateway
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/personas", h.listPersonas)
		r.Post("/personas", h.createPersona)
		r.Route("/personas/{id}", func(r chi.Router) {
			r.Get("/", h.getPersona)
			r.Post("/define", h.definePersona)
			r.Post("/context", h.setContext)
			r.Post("/act", h.listenAndAct)
			r.Get("/memory", h.getMemory)
			r.Get("/prompt", h.getPrompt)
		})

		// Simulation routes
		r.Post("/simulations", h.runSimulation)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/runs/{id}/events", h.runEvents)

		// Gateway routes
		r.Post("/broadcast", h.sendBroadcast)
		if h.deps.RESTGateway != nil {
			r.Mount("/gateway/rest", h.deps.RESTGateway.Routes())
		}
		r.Get("/gateway/status", h.gatewayStatus)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "personasim",
		"personas": len(h.deps.Registry.List()),
	})
}

// personaView is the JSON form of a registered persona.
type personaView struct {
	*agent.Entry
	Name    string         `json:"name"`
	Profile map[string]any `json:"profile"`
}

func view(e *agent.Entry) personaView {
	return personaView{Entry: e, Name: e.Person.Name(), Profile: e.Person.Persona().Map()}
}

func (h *Handler) listPersonas(w http.ResponseWriter, r *http.Request) {
	entries := h.deps.Registry.List()
	out := make([]personaView, 0, len(entries))
	for _, e := range entries {
		out = append(out, view(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createPersona(w http.ResponseWriter, r *http.Request) {
	var profile map[string]any
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, err := h.deps.Registry.Create(profile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if h.deps.Personas != nil {
		if err := h.deps.Personas.SavePersona(r.Context(), e.ID, e.Person.Name(), e.Person.Persona().Map()); err != nil {
			h.logger.Warn("save persona failed", zap.String("id", e.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, view(e))
}

// entry resolves the {id} URL parameter, writing 404 when it is unknown.
func (h *Handler) entry(w http.ResponseWriter, r *http.Request) (*agent.Entry, bool) {
	id := chi.URLParam(r, "id")
	e, ok := h.deps.Registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "persona not found"})
		return nil, false
	}
	return e, true
}

func (h *Handler) getPersona(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view(e))
}

type defineRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (h *Handler) definePersona(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	var req defineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := e.Person.Define(req.Key, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, view(e))
}

type contextRequest struct {
	Situation string `json:"situation"`
}

func (h *Handler) setContext(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e.Person.SetContext(req.Situation)
	writeJSON(w, http.StatusOK, map[string]string{"status": "context updated"})
}

type actRequest struct {
	Message string `json:"message"`
}

func (h *Handler) listenAndAct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req actRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	trace, err := h.deps.Registry.ListenAndAct(r.Context(), id, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrPersonNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trace": trace,
		"talk":  trace.Talk(),
		"done":  trace.Done(),
	})
}

// getMemory returns the episodic log, windowed by ?first=N&last=M.
func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	first, err1 := queryInt(r, "first")
	last, err2 := queryInt(r, "last")
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var evs []memory.Event
	if first == 0 && last == 0 {
		evs = e.Person.Episodic().All()
	} else {
		evs = e.Person.Episodic().Retrieve(first, last, true)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  e.Person.Episodic().Len(),
		"events": evs,
	})
}

func (h *Handler) getPrompt(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	msgs, err := e.Person.Messages()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// runSimulation plays a posted YAML or JSON scenario synchronously. Persona
// failures still return the report, with the joined error alongside.
func (h *Handler) runSimulation(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "simulation runner not initialized"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxScenarioBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sc, err := simulation.ParseScenario(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Profile files live on the server; remote callers may not name them.
	if _, isPath := sc.Agent.(string); isPath {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent must be a profile object or a persona count"})
		return
	}

	report, err := h.deps.Runner.Run(r.Context(), sc)
	switch {
	case report == nil && errors.Is(err, simulation.ErrMissingField):
		writeError(w, http.StatusBadRequest, err)
	case report == nil:
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		h.logger.Warn("simulation finished with errors", zap.String("run", report.RunID), zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{"report": report, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"report": report})
	}
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run store not initialized"})
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	runs, err := h.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run store not initialized"})
		return
	}
	id := chi.URLParam(r, "id")
	run, err := h.deps.Runs.GetRun(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	responses, err := h.deps.Runs.ListResponses(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "responses": responses})
}

func (h *Handler) runEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus not initialized"})
		return
	}
	evs, err := h.deps.Events.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (h *Handler) sendBroadcast(w http.ResponseWriter, r *http.Request) {
	if h.deps.Broadcaster == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "broadcaster not initialized"})
		return
	}
	var msg gateway.BroadcastMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if msg.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type is required"})
		return
	}
	if err := h.deps.Broadcaster.Send(r.Context(), &msg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "broadcast sent"})
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gateway == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Gateway.StatusAll())
}

// queryInt reads a non-negative integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

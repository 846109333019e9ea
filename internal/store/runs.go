package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Run is one execution of a scenario.
type Run struct {
	ID         string     `json:"id"`
	Scenario   string     `json:"scenario"`
	Situation  string     `json:"situation"`
	Request    string     `json:"request"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Response is what one persona did during a run.
type Response struct {
	RunID      string          `json:"run_id"`
	Seq        int             `json:"seq"`
	Persona    string          `json:"persona"`
	Actions    json.RawMessage `json:"actions"`
	Talk       string          `json:"talk"`
	Extraction json.RawMessage `json:"extraction,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CreateRun inserts a run in the running state.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO runs (id, scenario, situation, request, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		r.ID, r.Scenario, r.Situation, r.Request, RunRunning,
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	r.Status = RunRunning
	return nil
}

// FinishRun marks a run finished, or failed when runErr is non-nil.
func (s *Store) FinishRun(ctx context.Context, id string, runErr error) error {
	status, msg := RunFinished, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	_, err := s.db.Exec(ctx, `
		UPDATE runs SET status = $2, error = $3, finished_at = NOW()
		WHERE id = $1`, id, status, msg)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// GetRun retrieves a single run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	err := s.db.QueryRow(ctx, `
		SELECT id, scenario, situation, request, status, error, created_at, finished_at
		FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Scenario, &r.Situation, &r.Request, &r.Status, &r.Error, &r.CreatedAt, &r.FinishedAt)
	if err != nil {
		return nil, notFound(err, "get run "+id)
	}
	return &r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, scenario, situation, request, status, error, created_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Situation, &r.Request, &r.Status, &r.Error, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// SaveResponse stores one persona's response within a run.
func (s *Store) SaveResponse(ctx context.Context, r *Response) error {
	actions := r.Actions
	if len(actions) == 0 {
		actions = json.RawMessage("[]")
	}
	var extraction []byte
	if len(r.Extraction) > 0 {
		extraction = r.Extraction
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO responses (run_id, seq, persona, actions, talk, extraction)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, seq) DO UPDATE SET
			persona = EXCLUDED.persona,
			actions = EXCLUDED.actions,
			talk = EXCLUDED.talk,
			extraction = EXCLUDED.extraction`,
		r.RunID, r.Seq, r.Persona, []byte(actions), r.Talk, extraction,
	)
	if err != nil {
		return fmt.Errorf("save response %s/%d: %w", r.RunID, r.Seq, err)
	}
	return nil
}

// ListResponses returns a run's responses in persona order.
func (s *Store) ListResponses(ctx context.Context, runID string) ([]*Response, error) {
	rows, err := s.db.Query(ctx, `
		SELECT run_id, seq, persona, actions, talk, extraction, created_at
		FROM responses WHERE run_id = $1
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []*Response
	for rows.Next() {
		var r Response
		var actions, extraction []byte
		if err := rows.Scan(&r.RunID, &r.Seq, &r.Persona, &actions, &r.Talk, &extraction, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.Actions = actions
		if len(extraction) > 0 {
			r.Extraction = extraction
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

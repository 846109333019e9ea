package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PersonaRecord is a stored persona profile.
type PersonaRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Profile   map[string]any `json:"profile"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SavePersona upserts a persona profile.
func (s *Store) SavePersona(ctx context.Context, id, name string, profile map[string]any) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", id, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO personas (id, name, profile)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			profile = EXCLUDED.profile,
			updated_at = NOW()`,
		id, name, data,
	)
	if err != nil {
		return fmt.Errorf("save persona %s: %w", id, err)
	}
	return nil
}

// GetPersona retrieves a single persona by ID.
func (s *Store) GetPersona(ctx context.Context, id string) (*PersonaRecord, error) {
	var p PersonaRecord
	var data []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, name, profile, created_at, updated_at
		FROM personas WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &data, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get persona "+id)
	}
	if err := json.Unmarshal(data, &p.Profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &p, nil
}

// ListPersonas returns all stored personas, oldest first.
func (s *Store) ListPersonas(ctx context.Context) ([]*PersonaRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, profile, created_at, updated_at
		FROM personas ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var out []*PersonaRecord
	for rows.Next() {
		var p PersonaRecord
		var data []byte
		if err := rows.Scan(&p.ID, &p.Name, &data, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		if err := json.Unmarshal(data, &p.Profile); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", p.ID, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SaveSnapshot stores a serialized episodic log for a persona.
func (s *Store) SaveSnapshot(ctx context.Context, persona, runID string, events []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO episodic_snapshots (persona, run_id, events)
		VALUES ($1, $2, $3)`, persona, runID, events)
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", persona, err)
	}
	return nil
}

// LatestSnapshot returns the most recent episodic log stored for a persona.
func (s *Store) LatestSnapshot(ctx context.Context, persona string) ([]byte, error) {
	var events []byte
	err := s.db.QueryRow(ctx, `
		SELECT events FROM episodic_snapshots
		WHERE persona = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, persona,
	).Scan(&events)
	if err != nil {
		return nil, notFound(err, "latest snapshot for "+persona)
	}
	return events, nil
}

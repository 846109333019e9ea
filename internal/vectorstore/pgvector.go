package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// PGVector keeps chunks in the semantic_chunks table, one logical
// collection per collection column value.
type PGVector struct {
	db         *pgxpool.Pool
	collection string
}

// NewPGVector opens a pool whose connections know the vector type.
func NewPGVector(ctx context.Context, dsn, collection string) (*PGVector, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if collection == "" {
		collection = "persona_memory"
	}
	return &PGVector{db: pool, collection: collection}, nil
}

// WithCollection returns a store over another collection sharing this pool.
func (p *PGVector) WithCollection(name string) *PGVector {
	return &PGVector{db: p.db, collection: name}
}

// Add upserts documents.
func (p *PGVector) Add(ctx context.Context, docs []Document) error {
	if err := validateDocs(docs); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, d := range docs {
		meta, err := json.Marshal(copyMetadata(d.Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata %s: %w", d.ID, err)
		}
		batch.Queue(`
			INSERT INTO semantic_chunks (id, collection, document, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (collection, id)
			DO UPDATE SET document = EXCLUDED.document,
			              metadata = EXCLUDED.metadata,
			              embedding = EXCLUDED.embedding`,
			d.ID, p.collection, d.Text, meta, pgvector.NewVector(d.Embedding),
		)
	}
	if err := p.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

// Query orders chunks by cosine distance to embedding.
func (p *PGVector) Query(ctx context.Context, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := p.db.Query(ctx, `
		SELECT id, document, metadata, embedding <=> $1 AS distance
		FROM semantic_chunks
		WHERE collection = $2
		ORDER BY distance ASC
		LIMIT $3`,
		pgvector.NewVector(embedding), p.collection, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var meta []byte
		if err := rows.Scan(&m.ID, &m.Text, &meta, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata %s: %w", m.ID, err)
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Count returns the number of chunks in the collection.
func (p *PGVector) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRow(ctx, `SELECT count(*) FROM semantic_chunks WHERE collection = $1`, p.collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Close shuts down the pool.
func (p *PGVector) Close() {
	p.db.Close()
}

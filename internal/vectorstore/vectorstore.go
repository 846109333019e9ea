// Package vectorstore holds the nearest-neighbor indexes behind semantic memory.
package vectorstore

import (
	"context"
	"fmt"
)

// Document is one embedded chunk handed to a Store.
type Document struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Match is a query hit. Distance is cosine distance, lower is closer.
type Match struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// Store is the vector index boundary: add embedded documents, query by
// embedding. Query results are ordered by ascending distance.
type Store interface {
	Add(ctx context.Context, docs []Document) error
	Query(ctx context.Context, embedding []float32, topK int) ([]Match, error)
	Count(ctx context.Context) (int, error)
}

func validateDocs(docs []Document) error {
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document %d: empty id", i)
		}
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %s: empty embedding", d.ID)
		}
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

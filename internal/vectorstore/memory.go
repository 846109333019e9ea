package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process index using exhaustive cosine search. It is the
// default when no external vector database is configured.
type Memory struct {
	mu    sync.RWMutex
	docs  []Document
	index map[string]int
}

// NewMemory returns an empty in-process index.
func NewMemory() *Memory {
	return &Memory{index: make(map[string]int)}
}

// Add inserts documents, replacing any with the same id.
func (m *Memory) Add(_ context.Context, docs []Document) error {
	if err := validateDocs(docs); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		d.Metadata = copyMetadata(d.Metadata)
		if i, ok := m.index[d.ID]; ok {
			m.docs[i] = d
			continue
		}
		m.index[d.ID] = len(m.docs)
		m.docs = append(m.docs, d)
	}
	return nil
}

// Query returns up to topK documents closest to embedding.
func (m *Memory) Query(_ context.Context, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	matches := make([]Match, 0, len(m.docs))
	for _, d := range m.docs {
		matches = append(matches, Match{
			ID:       d.ID,
			Text:     d.Text,
			Metadata: copyMetadata(d.Metadata),
			Distance: 1 - cosine(embedding, d.Embedding),
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the number of stored documents.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

package memory

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/persona-sim/internal/rag"
	"go.uber.org/zap"
)

// engramTime is the timestamp layout used inside engram text.
const engramTime = "2006-01-02 15:04:05"

// maxDocumentContent caps the text returned by DocumentByName.
const maxDocumentContent = 10000

// Engram renders an event as the text indexed for semantic retrieval.
// Events without a type (the omission sentinel) have no engram.
func Engram(e Event) (string, bool) {
	ts := "None"
	if e.Timestamp != nil {
		ts = e.Timestamp.Format(engramTime)
	}
	switch e.Type {
	case EventAction:
		return "# Fact\nI have performed the following action at date and time " + ts + ":\n\n " + string(e.Content), true
	case EventStimulus:
		return "# Stimulus\nI have received the following stimulus at date and time " + ts + ":\n\n " + string(e.Content), true
	default:
		return "", false
	}
}

// Semantic is a persona's concept memory: engrams of its own events plus
// ingested documents, all retrievable by relevance.
type Semantic struct {
	kb     *rag.KnowledgeBase
	http   *http.Client
	logger *zap.Logger

	mu        sync.RWMutex
	documents map[string]string
	webURLs   []string
}

// NewSemantic wraps a knowledge base.
func NewSemantic(kb *rag.KnowledgeBase, logger *zap.Logger) *Semantic {
	return &Semantic{
		kb:        kb,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
		documents: make(map[string]string),
	}
}

// Store indexes the engram of e under a fresh id.
func (s *Semantic) Store(ctx context.Context, e Event) error {
	text, ok := Engram(e)
	if !ok {
		return nil
	}
	if err := s.kb.AddDocument(ctx, text, uuid.NewString(), nil); err != nil {
		return fmt.Errorf("store engram: %w", err)
	}
	return nil
}

// AddDocument indexes text with chunk ids {id}_{index}; an empty id gets a
// fresh one. A non-empty name is recorded as the file_name metadata and the
// document becomes retrievable by that name.
func (s *Semantic) AddDocument(ctx context.Context, text, id, name string, metadata map[string]string) error {
	if id == "" {
		id = uuid.NewString()
	}
	text = sanitize(text)
	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if name != "" {
		meta[rag.MetaFileName] = name
	}
	if err := s.kb.AddDocument(ctx, text, id, meta); err != nil {
		return err
	}
	if name != "" {
		s.mu.Lock()
		s.documents[name] = text
		s.mu.Unlock()
	}
	return nil
}

// RetrieveRelevant returns up to topK formatted matches for query.
func (s *Semantic) RetrieveRelevant(ctx context.Context, query string, topK int) ([]string, error) {
	return s.kb.RetrieveRelevant(ctx, query, topK)
}

// DocumentByName returns a named document as SOURCE / CONTENT text.
func (s *Semantic) DocumentByName(name string) (string, bool) {
	s.mu.RLock()
	text, ok := s.documents[name]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	r := []rune(text)
	if len(r) > maxDocumentContent {
		text = string(r[:maxDocumentContent])
	}
	return "SOURCE: " + name + "\nCONTENT: " + text, true
}

// DocumentNames lists named documents, sorted.
func (s *Semantic) DocumentNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.documents))
	for n := range s.documents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count reports how many chunks are indexed.
func (s *Semantic) Count(ctx context.Context) (int, error) {
	return s.kb.Count(ctx)
}

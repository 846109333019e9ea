// Package rag splits text into overlapping chunks, embeds them, and answers
// relevance queries against a vector store.
package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/persona-sim/internal/embedding"
	"github.com/nidhogg/persona-sim/internal/vectorstore"
	"go.uber.org/zap"
)

// Metadata keys written on every chunk.
const (
	MetaSource   = "source"
	MetaChunkID  = "chunk_id"
	MetaFileName = "file_name"
)

// Default chunking window, in runes.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Options tunes chunking.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

// KnowledgeBase owns the chunk, embed and index pipeline for one agent.
type KnowledgeBase struct {
	embedder embedding.Provider
	store    vectorstore.Store
	size     int
	overlap  int
	logger   *zap.Logger
}

// New creates a knowledge base. Out-of-range options fall back to defaults.
func New(embedder embedding.Provider, store vectorstore.Store, opts Options, logger *zap.Logger) *KnowledgeBase {
	size, overlap := opts.ChunkSize, opts.ChunkOverlap
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
		if DefaultChunkOverlap < size {
			overlap = DefaultChunkOverlap
		}
	}
	return &KnowledgeBase{
		embedder: embedder,
		store:    store,
		size:     size,
		overlap:  overlap,
		logger:   logger,
	}
}

// Chunk splits text into windows of size runes, each starting size-overlap
// runes after the previous one. The last window may be shorter. Dropping the
// first overlap runes of every chunk after the first and concatenating gives
// back the original text.
func Chunk(text string, size, overlap int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// AddDocument chunks text, embeds every chunk and stores them as
// {id}_{index}. metadata is copied onto every chunk along with the chunk
// index and, unless already present, the source id.
func (kb *KnowledgeBase) AddDocument(ctx context.Context, text, id string, metadata map[string]string) error {
	chunks := Chunk(text, kb.size, kb.overlap)
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := kb.embedder.Embed(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", id, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embed document %s: got %d vectors for %d chunks", id, len(vectors), len(chunks))
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]string, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		if _, ok := meta[MetaSource]; !ok {
			meta[MetaSource] = id
		}
		meta[MetaChunkID] = strconv.Itoa(i)
		docs[i] = vectorstore.Document{
			ID:        id + "_" + strconv.Itoa(i),
			Text:      c,
			Embedding: vectors[i],
			Metadata:  meta,
		}
	}
	if err := kb.store.Add(ctx, docs); err != nil {
		return fmt.Errorf("index document %s: %w", id, err)
	}
	kb.logger.Debug("document indexed", zap.String("id", id), zap.Int("chunks", len(chunks)))
	return nil
}

// Retrieve embeds query and returns up to topK matches, closest first.
func (kb *KnowledgeBase) Retrieve(ctx context.Context, query string, topK int) ([]vectorstore.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	vectors, err := kb.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	matches, err := kb.store.Query(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	return matches, nil
}

// RetrieveRelevant is Retrieve rendered for a prompt, one string per match.
func (kb *KnowledgeBase) RetrieveRelevant(ctx context.Context, query string, topK int) ([]string, error) {
	matches, err := kb.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = FormatMatch(m)
	}
	return out, nil
}

// FormatMatch renders one hit as SOURCE / DISTANCE / RELEVANT CONTENT.
func FormatMatch(m vectorstore.Match) string {
	source := m.Metadata[MetaFileName]
	if source == "" {
		source = "(unknown)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SOURCE: %s\n", source)
	fmt.Fprintf(&b, "DISTANCE: %.4f\n", m.Distance)
	b.WriteString("RELEVANT CONTENT:\n")
	b.WriteString(m.Text)
	return b.String()
}

// Count reports how many chunks are indexed.
func (kb *KnowledgeBase) Count(ctx context.Context) (int, error) {
	return kb.store.Count(ctx)
}

package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Cache stores backend replies keyed by request.
type Cache interface {
	Get(ctx context.Context, key string) (*ChatResponse, bool, error)
	Put(ctx context.Context, key string, resp *ChatResponse) error
}

// CacheKey hashes the model together with the full request parameters.
func CacheKey(req *ChatRequest) (string, error) {
	b, err := json.Marshal(struct {
		Model  string       `json:"model"`
		Params *ChatRequest `json:"params"`
	}{req.Model, req})
	if err != nil {
		return "", fmt.Errorf("marshal cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// FileCache is a JSON key to response map persisted on disk. The file is
// read once at construction and rewritten after every Put. It assumes a
// single writing process.
type FileCache struct {
	path    string
	entries map[string]*ChatResponse
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewFileCache loads the cache at path, starting empty when it does not exist.
func NewFileCache(path string, logger *zap.Logger) (*FileCache, error) {
	c := &FileCache{
		path:    path,
		entries: make(map[string]*ChatResponse),
		logger:  logger,
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("read cache %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			return nil, fmt.Errorf("parse cache %s: %w", path, err)
		}
	}
	logger.Info("response cache loaded", zap.String("path", path), zap.Int("entries", len(c.entries)))
	return c, nil
}

func (c *FileCache) Get(_ context.Context, key string) (*ChatResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := *resp
	return &cp, true, nil
}

func (c *FileCache) Put(_ context.Context, key string, resp *ChatResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *resp
	c.entries[key] = &cp
	return c.save()
}

// Len returns the number of cached replies.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// save writes to a temp file and renames it over the cache so a crash never
// leaves a truncated file behind.
func (c *FileCache) save() error {
	data, err := json.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cache %s: %w", c.path, err)
	}
	return nil
}

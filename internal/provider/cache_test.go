package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestCacheKeyDependsOnParams(t *testing.T) {
	a := &ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}, Temperature: 1}
	b := &ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}, Temperature: 0.5}
	ka, err := CacheKey(a)
	if err != nil {
		t.Fatal(err)
	}
	kb, _ := CacheKey(b)
	ka2, _ := CacheKey(a)
	if ka == kb {
		t.Error("different params should give different keys")
	}
	if ka != ka2 {
		t.Error("same request should give same key")
	}
}

func TestFileCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	c, err := NewFileCache(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("empty cache should miss")
	}
	if err := c.Put(ctx, "k", &ChatResponse{Content: "v"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || got.Content != "v" {
		t.Fatalf("Get = %+v %v %v", got, ok, err)
	}
	// Callers cannot mutate cached entries.
	got.Content = "changed"
	again, _, _ := c.Get(ctx, "k")
	if again.Content != "v" {
		t.Error("cache entry was mutated through returned pointer")
	}
}

func TestFileCacheCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileCache(path, zap.NewNop()); err == nil {
		t.Error("expected parse error")
	}
}

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIProviderEmbed(t *testing.T) {
	// APIProvider posts to endpoint+"/embeddings"; answer out of order to
	// check that vectors are placed by index.
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "test-model" || len(req.Input) != 2 {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-model",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float64{0.4, 0.5, 0.6}},
				{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			},
			"usage": map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{
		Endpoint: srv.URL + "/v1",
		Model:    "test-model",
		APIKey:   "sk-test",
	})

	vectors, err := p.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if vectors[0][0] != float32(0.1) || vectors[1][0] != float32(0.4) {
		t.Errorf("vectors out of order: %v", vectors)
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIProviderEmbed_Empty(t *testing.T) {
	p := NewAPIProvider(Config{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 128,
	})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestAPIProviderDimension_Fallback(t *testing.T) {
	p := NewAPIProvider(Config{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 256,
	})

	// Before any Embed call, Dimension should return the configured default.
	if d := p.Dimension(); d != 256 {
		t.Errorf("got dimension %d, want configured default 256", d)
	}
}

func TestOllamaProviderBatches(t *testing.T) {
	var batches []int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic" {
			t.Errorf("model = %q", req.Model)
		}
		batches = append(batches, len(req.Input))
		resp := embedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 0})
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	texts := make([]string, ollamaBatchSize+3)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}
	p := NewOllamaProvider(Config{Endpoint: srv.URL, Model: "nomic"})
	vectors, err := p.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	if len(batches) != 2 || batches[0] != ollamaBatchSize || batches[1] != 3 {
		t.Errorf("batches = %v, want [%d 3]", batches, ollamaBatchSize)
	}
	if p.Dimension() != 2 {
		t.Errorf("got dimension %d, want 2", p.Dimension())
	}
}

func TestOllamaProviderErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"model \"missing\" not found"}`))
		}))
		defer srv.Close()

		p := NewOllamaProvider(Config{Endpoint: srv.URL, Model: "missing"})
		_, err := p.Embed(context.Background(), []string{"a"})
		if err == nil || !strings.Contains(err.Error(), `model "missing" not found`) {
			t.Fatalf("err = %v, want the server's message", err)
		}
	})
	t.Run("short reply", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"embeddings":[[1,0]]}`))
		}))
		defer srv.Close()

		p := NewOllamaProvider(Config{Endpoint: srv.URL, Model: "nomic"})
		if _, err := p.Embed(context.Background(), []string{"a", "b"}); err == nil {
			t.Fatal("expected error for missing vectors")
		}
	})
}

func TestHashProviderSimilarity(t *testing.T) {
	p := NewHashProvider(64)
	vecs, err := p.Embed(context.Background(), []string{
		"coffee ad with mountains",
		"mountains coffee ad",
		"quarterly tax filing",
	})
	if err != nil {
		t.Fatal(err)
	}
	dot := func(a, b []float32) float32 {
		var s float32
		for i := range a {
			s += a[i] * b[i]
		}
		return s
	}
	if dot(vecs[0], vecs[1]) <= dot(vecs[0], vecs[2]) {
		t.Errorf("related texts should be closer: %v vs %v", dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
	}
	if p.Dimension() != 64 || len(vecs[0]) != 64 {
		t.Errorf("dimension = %d / %d, want 64", p.Dimension(), len(vecs[0]))
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "mystery"}); err == nil {
		t.Error("expected error")
	}
	p, err := New(context.Background(), Config{Provider: "hash", Dimension: 8})
	if err != nil || p.Dimension() != 8 {
		t.Errorf("hash provider = %v, %v", p, err)
	}
}

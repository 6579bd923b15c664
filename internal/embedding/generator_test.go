package embedding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"
)

type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	dimension int
	vector    []float64
	err       error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]float64(nil), f.vector...), nil
}

func (f *fakeEmbedder) Dimension() int       { return f.dimension }
func (f *fakeEmbedder) ModelVersion() string { return "test-embed-v1" }

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
	ttls  []time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string][]byte)}
}

func (m *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.items[key]; ok {
		return v, nil
	}
	return nil, errors.New("cache miss")
}

func (m *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	m.ttls = append(m.ttls, ttl)
	return nil
}

func (m *memoryCache) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryCache) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateCachesByText(t *testing.T) {
	embedder := &fakeEmbedder{dimension: 3, vector: []float64{0.1, 0.2, 0.3}}
	gen := NewGenerator(embedder, newMemoryCache(), discardLogger())

	first, err := gen.Generate(context.Background(), "disk full on node-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := gen.Generate(context.Background(), "disk full on node-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected one backend call, got %d", embedder.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d: %v vs %v", i, first, second)
		}
	}
}

func TestGenerateCacheEntriesNeverExpire(t *testing.T) {
	embedder := &fakeEmbedder{dimension: 2, vector: []float64{1, 0}}
	provider := newMemoryCache()
	gen := NewGenerator(embedder, provider, discardLogger())

	if _, err := gen.Generate(context.Background(), "disk full on node-7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.ttls) != 1 {
		t.Fatalf("expected one cache write, got %d", len(provider.ttls))
	}
	// Vectors for a fixed text and model are immutable, so they must be
	// stored without an expiry.
	if provider.ttls[0] != 0 {
		t.Fatalf("expected zero TTL, got %s", provider.ttls[0])
	}
}

func TestGenerateDistinctTextsMissCache(t *testing.T) {
	embedder := &fakeEmbedder{dimension: 2, vector: []float64{1, 0}}
	gen := NewGenerator(embedder, newMemoryCache(), discardLogger())

	if _, err := gen.Generate(context.Background(), "first incident"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := gen.Generate(context.Background(), "second incident"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.calls != 2 {
		t.Fatalf("expected two backend calls, got %d", embedder.calls)
	}
}

func TestGenerateRejectsWrongDimension(t *testing.T) {
	embedder := &fakeEmbedder{dimension: 4, vector: []float64{0.5, 0.5}}
	gen := NewGenerator(embedder, nil, discardLogger())

	if _, err := gen.Generate(context.Background(), "text"); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestGenerateRejectsNonFinite(t *testing.T) {
	embedder := &fakeEmbedder{dimension: 2, vector: []float64{math.NaN(), 0.1}}
	gen := NewGenerator(embedder, nil, discardLogger())

	if _, err := gen.Generate(context.Background(), "text"); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestGenerateBackendFailure(t *testing.T) {
	embedder := &fakeEmbedder{dimension: 2, err: errors.New("connection refused")}
	gen := NewGenerator(embedder, nil, discardLogger())

	if _, err := gen.Generate(context.Background(), "text"); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestGenerateEmptyText(t *testing.T) {
	embedder := &fakeEmbedder{dimension: 2, vector: []float64{1, 0}}
	gen := NewGenerator(embedder, nil, discardLogger())

	if _, err := gen.Generate(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty text")
	}
	if embedder.calls != 0 {
		t.Fatalf("backend should not be called for empty text")
	}
}

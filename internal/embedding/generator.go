// Package embedding wraps the embedding backend with validation and a
// cache keyed on model version plus normalized text, so identical inputs
// always resolve to identical vectors without a second backend call.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/miradorstack/mirador-resolve/internal/backends"
	"github.com/miradorstack/mirador-resolve/internal/cache"
)

// ErrEmbeddingUnavailable indicates no valid vector could be produced.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Embeddings for a fixed text and model never change, so cache entries
// are written without an expiry.
const cacheTTL time.Duration = 0

// Generator produces validated embedding vectors.
type Generator struct {
	embedder backends.Embedder
	cache    cache.Provider
	logger   *slog.Logger
}

// NewGenerator wires an embedder with a cache provider. Pass a
// cache.NoopProvider to disable caching.
func NewGenerator(embedder backends.Embedder, provider cache.Provider, logger *slog.Logger) *Generator {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &Generator{embedder: embedder, cache: provider, logger: logger}
}

// Generate returns the embedding for the given normalized text, serving
// from cache when possible. The returned vector is always the configured
// dimension and free of NaN or Inf components.
func (g *Generator) Generate(ctx context.Context, normalizedText string) ([]float64, error) {
	if normalizedText == "" {
		return nil, fmt.Errorf("empty text: %w", ErrEmbeddingUnavailable)
	}

	key := g.cacheKey(normalizedText)
	if cached, err := g.cache.Get(ctx, key); err == nil {
		var vec []float64
		if err := json.Unmarshal(cached, &vec); err == nil {
			if err := g.validate(vec); err == nil {
				return vec, nil
			}
		}
		// A corrupt cache entry is dropped and regenerated.
		_ = g.cache.Del(ctx, key)
	}

	vec, err := g.embedder.Embed(ctx, normalizedText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if err := g.validate(vec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	if data, err := json.Marshal(vec); err == nil {
		if err := g.cache.Set(ctx, key, data, cacheTTL); err != nil {
			g.logger.Warn("embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}

// Dimension reports the vector length the underlying embedder produces.
func (g *Generator) Dimension() int { return g.embedder.Dimension() }

func (g *Generator) cacheKey(normalizedText string) string {
	sum := sha256.Sum256([]byte(g.embedder.ModelVersion() + "\x00" + normalizedText))
	return "embed:" + hex.EncodeToString(sum[:])
}

func (g *Generator) validate(vec []float64) error {
	if want := g.embedder.Dimension(); len(vec) != want {
		return fmt.Errorf("vector has %d components, want %d", len(vec), want)
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("vector component %d is not finite", i)
		}
	}
	return nil
}

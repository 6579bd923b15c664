// Package index provides an in-memory similarity index over incident
// embeddings. Queries rank by cosine similarity with a recency tiebreak
// and honor a minimum-similarity floor.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-resolve/internal/models"
)

// Entry is a corpus incident stored alongside its embedding.
type Entry struct {
	IncidentID        string
	Description       string
	Category          models.Category
	Priority          models.Priority
	ReportedAt        time.Time
	ResolutionSummary string
	Embedding         []float64
}

// ErrDimensionMismatch indicates a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrNotFound indicates the incident is not present in the index.
var ErrNotFound = errors.New("incident not found in index")

type record struct {
	entry   Entry
	norm    float64
	deleted bool
}

// Index is a thread-safe in-memory cosine similarity index.
type Index struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]*record
}

// New creates an index accepting vectors of the given dimension.
func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		records:   make(map[string]*record),
	}
}

// Upsert inserts or replaces an entry. Re-upserting an ID clears any
// prior soft delete.
func (ix *Index) Upsert(entry Entry) error {
	if entry.IncidentID == "" {
		return errors.New("entry requires an incident id")
	}
	if len(entry.Embedding) != ix.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(entry.Embedding), ix.dimension)
	}
	norm := vectorNorm(entry.Embedding)
	if norm == 0 {
		return errors.New("entry embedding has zero magnitude")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.records[entry.IncidentID] = &record{entry: entry, norm: norm}
	return nil
}

// BulkUpsert inserts many entries, stopping at the first invalid one and
// reporting how many were stored.
func (ix *Index) BulkUpsert(entries []Entry) (int, error) {
	for i, entry := range entries {
		if err := ix.Upsert(entry); err != nil {
			return i, fmt.Errorf("entry %d (%s): %w", i, entry.IncidentID, err)
		}
	}
	return len(entries), nil
}

// Remove soft-deletes an entry. The record stays resident but is excluded
// from queries until re-upserted or swept.
func (ix *Index) Remove(incidentID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rec, ok := ix.records[incidentID]
	if !ok {
		return ErrNotFound
	}
	rec.deleted = true
	return nil
}

// Query returns up to k entries with cosine similarity >= minSimilarity,
// ordered by descending score. Equal scores order by most recent
// ReportedAt first.
func (ix *Index) Query(vector []float64, k int, minSimilarity float64) ([]models.SimilarityMatch, error) {
	if len(vector) != ix.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), ix.dimension)
	}
	if k <= 0 {
		return nil, nil
	}
	queryNorm := vectorNorm(vector)
	if queryNorm == 0 {
		return nil, errors.New("query embedding has zero magnitude")
	}

	ix.mu.RLock()
	matches := make([]models.SimilarityMatch, 0, len(ix.records))
	for _, rec := range ix.records {
		if rec.deleted {
			continue
		}
		score := dotProduct(vector, rec.entry.Embedding) / (queryNorm * rec.norm)
		if score < minSimilarity {
			continue
		}
		matches = append(matches, models.SimilarityMatch{
			HistoricalIncidentID: rec.entry.IncidentID,
			SimilarityScore:      score,
			ResolutionSummary:    rec.entry.ResolutionSummary,
			Description:          rec.entry.Description,
			Category:             rec.entry.Category,
			Priority:             rec.entry.Priority,
			ReportedAt:           rec.entry.ReportedAt,
		})
	}
	ix.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].SimilarityScore != matches[j].SimilarityScore {
			return matches[i].SimilarityScore > matches[j].SimilarityScore
		}
		return matches[i].ReportedAt.After(matches[j].ReportedAt)
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Sweep hard-removes soft-deleted records and entries reported before the
// cutoff. It returns the number of records dropped.
func (ix *Index) Sweep(cutoff time.Time) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	dropped := 0
	for id, rec := range ix.records {
		if rec.deleted || rec.entry.ReportedAt.Before(cutoff) {
			delete(ix.records, id)
			dropped++
		}
	}
	return dropped
}

// Count reports the number of live (not soft-deleted) entries.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, rec := range ix.records {
		if !rec.deleted {
			n++
		}
	}
	return n
}

// Dimension reports the vector length this index accepts.
func (ix *Index) Dimension() int { return ix.dimension }

func dotProduct(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func vectorNorm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

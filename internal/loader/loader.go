// Package loader manages the historical incident corpus: validating
// records, embedding them, and keeping the similarity index in sync.
// It also reads NDJSON seed files at startup.
package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/miradorstack/mirador-resolve/internal/analyzer"
	"github.com/miradorstack/mirador-resolve/internal/embedding"
	"github.com/miradorstack/mirador-resolve/internal/index"
	"github.com/miradorstack/mirador-resolve/internal/models"
	"github.com/miradorstack/mirador-resolve/internal/utils"
)

// HistoricalIncident is one resolved incident as submitted to the corpus.
type HistoricalIncident struct {
	ID                string    `json:"id"`
	Description       string    `json:"description"`
	Priority          string    `json:"priority"`
	Category          string    `json:"category"`
	ReportedAt        time.Time `json:"reported_at"`
	ResolutionSummary string    `json:"resolution_summary"`
}

const minDescriptionLength = 10

// Manager validates, embeds, and indexes corpus incidents.
type Manager struct {
	generator *embedding.Generator
	index     *index.Index
	logger    *slog.Logger
}

// NewManager constructs a corpus Manager.
func NewManager(generator *embedding.Generator, ix *index.Index, logger *slog.Logger) *Manager {
	return &Manager{generator: generator, index: ix, logger: logger}
}

// Add validates and indexes one historical incident. Re-adding an ID
// replaces the previous entry.
func (m *Manager) Add(ctx context.Context, rec HistoricalIncident) error {
	if err := validate(rec); err != nil {
		return err
	}

	normalized := analyzer.NormalizeText(rec.Description)
	priority := models.ParsePriority(rec.Priority)
	category := models.ParseCategory(rec.Category)

	vec, err := m.generator.Generate(ctx, embeddingText(normalized, category, priority))
	if err != nil {
		return fmt.Errorf("embed corpus incident %s: %w", rec.ID, err)
	}

	reported := rec.ReportedAt
	if reported.IsZero() {
		reported = time.Now().UTC()
	}

	return m.index.Upsert(index.Entry{
		IncidentID:        rec.ID,
		Description:       normalized,
		Category:          category,
		Priority:          priority,
		ReportedAt:        reported,
		ResolutionSummary: rec.ResolutionSummary,
		Embedding:         vec,
	})
}

// AddBatch validates and embeds all records, then indexes them in one
// bulk operation. The batch is rejected at the first invalid record.
func (m *Manager) AddBatch(ctx context.Context, recs []HistoricalIncident) (int, error) {
	entries := make([]index.Entry, 0, len(recs))
	for i, rec := range recs {
		if err := validate(rec); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		normalized := analyzer.NormalizeText(rec.Description)
		priority := models.ParsePriority(rec.Priority)
		category := models.ParseCategory(rec.Category)

		vec, err := m.generator.Generate(ctx, embeddingText(normalized, category, priority))
		if err != nil {
			return 0, fmt.Errorf("record %d (%s): embed: %w", i, rec.ID, err)
		}
		reported := rec.ReportedAt
		if reported.IsZero() {
			reported = time.Now().UTC()
		}
		entries = append(entries, index.Entry{
			IncidentID:        rec.ID,
			Description:       normalized,
			Category:          category,
			Priority:          priority,
			ReportedAt:        reported,
			ResolutionSummary: rec.ResolutionSummary,
			Embedding:         vec,
		})
	}
	return m.index.BulkUpsert(entries)
}

// Remove soft-deletes an incident from the index.
func (m *Manager) Remove(id string) error {
	return m.index.Remove(id)
}

// Count reports the number of live corpus entries.
func (m *Manager) Count() int {
	return m.index.Count()
}

// LoadSeed reads an NDJSON seed file, one HistoricalIncident per line.
// Invalid lines are logged and skipped; the first I/O error aborts. The
// number of loaded records is returned.
func (m *Manager) LoadSeed(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, utils.NewAppError("loader.LoadSeed", "open seed file", err)
	}
	defer f.Close()

	loaded := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec HistoricalIncident
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			m.logger.Warn("seed line skipped",
				"line", lineNo,
				"error", err,
			)
			continue
		}
		if err := m.Add(ctx, rec); err != nil {
			m.logger.Warn("seed record rejected",
				"line", lineNo,
				"incident_id", rec.ID,
				"error", err,
			)
			continue
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, utils.NewAppError("loader.LoadSeed", "read seed file", err)
	}
	return loaded, nil
}

// embeddingText mirrors the analyzer's canonical query text so corpus and
// query vectors live in the same space.
func embeddingText(normalized string, category models.Category, priority models.Priority) string {
	var b strings.Builder
	b.WriteString(normalized)
	b.WriteString("\nCategory: ")
	b.WriteString(string(category))
	b.WriteString("\nPriority: ")
	b.WriteString(priority.String())
	return b.String()
}

func validate(rec HistoricalIncident) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("corpus incident requires an id")
	}
	if len(strings.TrimSpace(rec.Description)) < minDescriptionLength {
		return fmt.Errorf("corpus incident %s: description must be at least %d characters", rec.ID, minDescriptionLength)
	}
	if strings.TrimSpace(rec.ResolutionSummary) == "" {
		return fmt.Errorf("corpus incident %s: resolution_summary is required", rec.ID)
	}
	return nil
}

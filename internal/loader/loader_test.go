package loader

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-resolve/internal/embedding"
	"github.com/miradorstack/mirador-resolve/internal/index"
)

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	// Deterministic but text-dependent, enough for index round-trips.
	v := float64(len(text)%7 + 1)
	return []float64{v, 1}, nil
}

func (f *fakeEmbedder) Dimension() int       { return 2 }
func (f *fakeEmbedder) ModelVersion() string { return "test-embed-v1" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager() (*Manager, *index.Index) {
	ix := index.New(2)
	gen := embedding.NewGenerator(&fakeEmbedder{}, nil, discardLogger())
	return NewManager(gen, ix, discardLogger()), ix
}

func validRecord(id string) HistoricalIncident {
	return HistoricalIncident{
		ID:                id,
		Description:       "Database connection pool exhausted during peak traffic",
		Priority:          "P2",
		Category:          "Availability",
		ReportedAt:        time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		ResolutionSummary: "Increased pool size and restarted the service",
	}
}

func TestAddAndQueryRoundTrip(t *testing.T) {
	m, ix := newManager()
	if err := m.Add(context.Background(), validRecord("HIST-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ix.Count() != 1 {
		t.Fatalf("expected 1 indexed entry, got %d", ix.Count())
	}
}

func TestAddValidation(t *testing.T) {
	m, _ := newManager()

	cases := []struct {
		name   string
		mutate func(*HistoricalIncident)
	}{
		{"missing id", func(r *HistoricalIncident) { r.ID = "" }},
		{"short description", func(r *HistoricalIncident) { r.Description = "too short" }},
		{"missing resolution", func(r *HistoricalIncident) { r.ResolutionSummary = " " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := validRecord("HIST-X")
			tc.mutate(&rec)
			if err := m.Add(context.Background(), rec); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestAddBatch(t *testing.T) {
	m, ix := newManager()
	recs := []HistoricalIncident{validRecord("HIST-1"), validRecord("HIST-2")}
	added, err := m.AddBatch(context.Background(), recs)
	if err != nil {
		t.Fatalf("add batch: %v", err)
	}
	if added != 2 || ix.Count() != 2 {
		t.Fatalf("expected 2 added, got added=%d count=%d", added, ix.Count())
	}
}

func TestAddBatchRejectsWholeBatch(t *testing.T) {
	m, ix := newManager()
	bad := validRecord("HIST-2")
	bad.ResolutionSummary = ""
	if _, err := m.AddBatch(context.Background(), []HistoricalIncident{validRecord("HIST-1"), bad}); err == nil {
		t.Fatal("expected error for invalid record in batch")
	}
	if ix.Count() != 0 {
		t.Fatalf("failed batch must not index anything, got %d", ix.Count())
	}
}

func TestRemove(t *testing.T) {
	m, ix := newManager()
	if err := m.Add(context.Background(), validRecord("HIST-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Remove("HIST-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ix.Count() != 0 {
		t.Fatalf("expected empty index after remove, got %d", ix.Count())
	}
}

func TestLoadSeedSkipsBadLines(t *testing.T) {
	m, ix := newManager()
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.ndjson")

	content := `{"id":"HIST-1","description":"Database connection pool exhausted during peak","priority":"P2","category":"Availability","resolution_summary":"Raised pool size"}
not json

{"id":"","description":"Missing the id so this line is rejected","priority":"P3","resolution_summary":"n/a"}
{"id":"HIST-2","description":"Disk filled up on the logging volume overnight","priority":"P3","category":"Other","resolution_summary":"Rotated logs and expanded the volume"}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	loaded, err := m.LoadSeed(context.Background(), path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if loaded != 2 {
		t.Fatalf("expected 2 loaded records, got %d", loaded)
	}
	if ix.Count() != 2 {
		t.Fatalf("expected 2 indexed entries, got %d", ix.Count())
	}
}

func TestLoadSeedMissingFile(t *testing.T) {
	m, _ := newManager()
	if _, err := m.LoadSeed(context.Background(), "/nonexistent/seed.ndjson"); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}

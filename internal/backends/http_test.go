package backends

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnalyzeText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyze" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		var req struct {
			Model string `json:"model"`
			Text  string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "database connection pool exhausted" {
			t.Fatalf("unexpected text: %q", req.Text)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"entities":      []string{"database", "connection pool"},
			"keywords":      []string{"exhausted", "timeout"},
			"severity_hint": "high",
			"escalation":    true,
		})
	}))
	defer srv.Close()

	client := NewHTTPTextBackend(srv.URL, "test-key", "claude-3-sonnet", time.Second, 0)
	insights, err := client.AnalyzeText(context.Background(), "database connection pool exhausted")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(insights.Entities) != 2 || insights.Entities[0] != "database" {
		t.Fatalf("unexpected entities: %+v", insights.Entities)
	}
	if insights.SeverityHint != "high" || !insights.Escalation {
		t.Fatalf("unexpected insights: %+v", insights)
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"completion": "restart the pool"})
	}))
	defer srv.Close()

	client := NewHTTPTextBackend(srv.URL, "", "claude-3-sonnet", time.Second, 2)
	out, err := client.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "restart the pool" {
		t.Fatalf("unexpected completion: %q", out)
	}
	if hits != 2 {
		t.Fatalf("expected one retry, got %d requests", hits)
	}
}

func TestGenerateClientErrorIsPermanent(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTPTextBackend(srv.URL, "", "claude-3-sonnet", time.Second, 3)
	if _, err := client.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if hits != 1 {
		t.Fatalf("client error should not be retried; got %d requests", hits)
	}
}

func TestGenerateUnreachableBackend(t *testing.T) {
	client := NewHTTPTextBackend("http://127.0.0.1:1", "", "claude-3-sonnet", 100*time.Millisecond, 0)
	_, err := client.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "titan-embed-text-v1" {
			t.Fatalf("unexpected model: %q", req.Model)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	client := NewHTTPEmbedder(srv.URL, "", "titan-embed-text-v1", 3, time.Second, 0)
	vec, err := client.Embed(context.Background(), "disk full on node-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Fatalf("unexpected vector: %v", vec)
	}
	if client.Dimension() != 3 {
		t.Fatalf("unexpected dimension: %d", client.Dimension())
	}
}

func TestEmbedEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
	}))
	defer srv.Close()

	client := NewHTTPEmbedder(srv.URL, "", "titan-embed-text-v1", 1536, time.Second, 0)
	if _, err := client.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

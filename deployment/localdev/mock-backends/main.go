// Command mock-backends serves stand-in /v1/analyze, /v1/generate, and
// /v1/embeddings endpoints for local development. Embeddings are seeded
// from a hash of the input text so identical inputs always produce
// identical vectors.
package main

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const dimension = 1536

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/analyze", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"entities":      pickWords(req.Text, 3),
			"keywords":      pickWords(req.Text, 5),
			"severity_hint": "medium",
			"escalation":    strings.Contains(strings.ToLower(req.Text), "outage"),
		})
	})

	mux.HandleFunc("/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"completion": `{
  "root_cause_hypothesis": "Mock hypothesis derived from similar incidents",
  "steps": [
    {"description": "Check service health dashboards", "expected_outcome": "Anomaly window identified"},
    {"description": "Apply the fix from the closest historical match", "expected_outcome": "Symptoms subside"}
  ],
  "best_practices": ["Add an alert for this failure mode"],
  "estimated_resolution_time": "45 minutes",
  "risk_level": "Medium"
}`,
		})
	})

	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"embedding": deterministicEmbedding(req.Input)})
	})

	logger := log.New(log.Writer(), "backends-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// deterministicEmbedding seeds a PRNG from the text hash and emits a
// unit-norm vector.
func deterministicEmbedding(text string) []float64 {
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float64, dimension)
	norm := 0.0
	for i := range vec {
		vec[i] = rng.NormFloat64()
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func pickWords(text string, n int) []string {
	words := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, n)
	for _, w := range words {
		if len(w) < 4 {
			continue
		}
		out = append(out, strings.Trim(w, ".,:;!?"))
		if len(out) == n {
			break
		}
	}
	return out
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

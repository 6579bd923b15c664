package backends

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const embeddingsPath = "/v1/embeddings"

// HTTPEmbedder talks to an embedding model service over HTTP.
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	maxRetries int
	httpClient *http.Client
}

// NewHTTPEmbedder constructs a client for the configured embedding service.
func NewHTTPEmbedder(baseURL, apiKey, model string, dimension int, timeout time.Duration, maxRetries int) *HTTPEmbedder {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dimension:  dimension,
		maxRetries: maxRetries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Embed requests a vector for the given text.
func (c *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("embedding backend not configured: %w", ErrBackendUnavailable)
	}

	payload := map[string]any{
		"model": c.model,
		"input": text,
	}

	var response struct {
		Embedding []float64 `json:"embedding"`
	}

	if err := c.postJSON(ctx, c.resolvePath(embeddingsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return response.Embedding, nil
}

// Dimension reports the configured vector length.
func (c *HTTPEmbedder) Dimension() int { return c.dimension }

// ModelVersion identifies the embedding model.
func (c *HTTPEmbedder) ModelVersion() string { return c.model }

func (c *HTTPEmbedder) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *HTTPEmbedder) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	return postJSONWithRetry(ctx, c.httpClient, endpoint, c.apiKey, payload, out, c.maxRetries)
}

var _ Embedder = (*HTTPEmbedder)(nil)

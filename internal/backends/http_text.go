package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	analyzePath  = "/v1/analyze"
	generatePath = "/v1/generate"
)

// HTTPTextBackend talks to a text model service over HTTP.
type HTTPTextBackend struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
}

// NewHTTPTextBackend constructs a client targeting the configured text
// model service.
func NewHTTPTextBackend(baseURL, apiKey, model string, timeout time.Duration, maxRetries int) *HTTPTextBackend {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPTextBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		maxRetries: maxRetries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// AnalyzeText extracts structured signals from incident text.
func (c *HTTPTextBackend) AnalyzeText(ctx context.Context, text string) (Insights, error) {
	if c == nil || c.baseURL == "" {
		return Insights{}, fmt.Errorf("text backend not configured: %w", ErrBackendUnavailable)
	}

	payload := map[string]any{
		"model": c.model,
		"text":  text,
	}

	var response struct {
		Entities     []string `json:"entities"`
		Keywords     []string `json:"keywords"`
		SeverityHint string   `json:"severity_hint"`
		Escalation   bool     `json:"escalation"`
	}

	if err := c.postJSON(ctx, c.resolvePath(analyzePath), payload, &response); err != nil {
		return Insights{}, fmt.Errorf("text backend analyze request failed: %w", err)
	}

	return Insights{
		Entities:     response.Entities,
		Keywords:     response.Keywords,
		SeverityHint: response.SeverityHint,
		Escalation:   response.Escalation,
	}, nil
}

// Generate produces a completion for the given prompt.
func (c *HTTPTextBackend) Generate(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("text backend not configured: %w", ErrBackendUnavailable)
	}

	payload := map[string]any{
		"model":  c.model,
		"prompt": prompt,
	}

	var response struct {
		Completion string `json:"completion"`
	}

	if err := c.postJSON(ctx, c.resolvePath(generatePath), payload, &response); err != nil {
		return "", fmt.Errorf("text backend generate request failed: %w", err)
	}
	if strings.TrimSpace(response.Completion) == "" {
		return "", fmt.Errorf("text backend returned an empty completion")
	}
	return response.Completion, nil
}

func (c *HTTPTextBackend) resolvePath(p string) string {
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

func (c *HTTPTextBackend) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	return postJSONWithRetry(ctx, c.httpClient, endpoint, c.apiKey, payload, out, c.maxRetries)
}

// postJSONWithRetry issues a JSON POST, retrying on transport errors and
// 5xx responses. Client errors (4xx) are permanent and returned as-is.
func postJSONWithRetry(ctx context.Context, client *http.Client, endpoint, apiKey string, payload any, out any, maxRetries int) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: backend returned %s", ErrBackendUnavailable, resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("backend returned %s", resp.Status))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(50*time.Millisecond),
			backoff.WithMaxInterval(500*time.Millisecond),
		), uint64(maxRetries)),
		ctx,
	)
	return backoff.Retry(attempt, policy)
}

var _ TextBackend = (*HTTPTextBackend)(nil)

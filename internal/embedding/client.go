package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// Client calls an external embedding backend over HTTP. The backend accepts
// {"model": ..., "prompt": ...} and returns {"embedding": [...]}.
type Client struct {
	baseURL    string
	model      string
	dimensions int
	timeout    time.Duration
	httpClient *http.Client
	policy     retryPolicy
	logger     *zap.Logger
}

// NewClient creates an embedding client for the backend at baseURL.
// Transient failures (5xx, connection errors, timeouts) are retried up to
// 3 attempts with 500ms/1s/2s backoff; other errors fail immediately.
func NewClient(baseURL, model string, dimensions int, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid embedding base URL %q", baseURL)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		timeout:    timeout,
		httpClient: &http.Client{},
		policy: retryPolicy{
			maxAttempts: 3,
			backoff:     []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
			retryable:   isTransient,
		},
		logger: logger,
	}, nil
}

type embedRequestBody struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponseBody struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedDirect performs one embedding request with retries. On exhausted
// retries or a non-retryable failure, the error wraps
// models.ErrEmbeddingUnavailable.
func (c *Client) EmbedDirect(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := c.policy.run(ctx, func(ctx context.Context) error {
		v, err := c.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		c.logger.Warn("embedding failed", zap.String("model", c.model), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequestBody{Model: c.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection failure or timeout.
		return nil, markTransient(fmt.Errorf("embedding request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, markTransient(fmt.Errorf("embedding backend returned %d: %s", resp.StatusCode, string(b)))
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding backend returned %d: %s", resp.StatusCode, string(b))
	}

	var out embedResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) != c.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(out.Embedding), c.dimensions)
	}
	return out.Embedding, nil
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Model returns the embedding model identifier.
func (c *Client) Model() string {
	return c.model
}

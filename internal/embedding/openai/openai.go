package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"taxrag/internal/backoff"
)

// Client is an OpenAI-compatible embeddings client implementing the Embedder interface.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	dimension atomic.Int64
	client    *http.Client
	policy    backoff.Policy
	sleep     backoff.Sleeper
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	Backoff   backoff.Policy
	Sleep     backoff.Sleeper
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	policy := cfg.Backoff
	if policy.MaxRetries == 0 {
		policy = backoff.Policy{MaxRetries: 5, Base: 200 * time.Millisecond, Max: 5 * time.Second}
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = backoff.Sleep
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  key,
		model:   cfg.Model,
		client:  &http.Client{Timeout: t},
		policy:  policy,
		sleep:   sleep,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Prepare is not required for remote embedding. Dimension is set on first embed.
func (c *Client) Prepare(context.Context, []string) error { return nil }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// Embed returns an embedding vector for the given text. Transport errors,
// 429 and 5xx responses are retried according to the backoff policy.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	type reqBody struct {
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model"`
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	data, err := json.Marshal(reqBody{Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.policy.Attempts(); attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.wait(lastErr, attempt-1)); err != nil {
				return nil, err
			}
		}
		v, err := c.embedOnce(ctx, url, data)
		if err == nil {
			c.dimension.CompareAndSwap(0, int64(len(v)))
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return nil, perm.err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("openai embeddings: %w", lastErr)
}

type retryAfterError struct {
	status string
	after  time.Duration
}

func (e *retryAfterError) Error() string { return "openai embeddings failed: " + e.status }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (c *Client) wait(err error, attempt int) time.Duration {
	var ra *retryAfterError
	if errors.As(err, &ra) && ra.after > 0 {
		return ra.after
	}
	return c.policy.Delay(attempt)
}

func (c *Client) embedOnce(ctx context.Context, url string, data []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, &permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Respect Retry-After if provided
		var after time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			after = time.Duration(secs) * time.Second
		}
		return nil, &retryAfterError{status: resp.Status, after: after}
	}
	if resp.StatusCode >= 300 {
		return nil, &permanentError{fmt.Errorf("openai embeddings failed: %s", resp.Status)}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// Try OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return openaiOut.Data[0].Embedding, nil
		}
	}
	// Fallback to Ollama-native shape: { "embedding": [...] }
	var ollamaOut struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 {
		return ollamaOut.Embedding, nil
	}
	return nil, errors.New("no embedding returned")
}

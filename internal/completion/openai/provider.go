// Package openai talks to an OpenAI-compatible /chat/completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"taxrag/internal/completion"
)

// ErrMissingAPIKey is returned when no credential is configured.
var ErrMissingAPIKey = errors.New("completion API key not set")

const defaultSystemPrompt = "You are a helpful assistant for Indian income tax, GST and personal finance questions."

// Config configures the provider.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float32
	Timeout      time.Duration
	SystemPrompt string
	// MinInterval spaces consecutive requests; zero disables pacing.
	MinInterval time.Duration
}

// Provider implements completion.Provider with a single HTTP request per
// call. Retrying is left to completion.Client.
type Provider struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float32
	system      string
	http        *http.Client
	limiter     *rate.Limiter
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return &Provider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		system:      cfg.SystemPrompt,
		http:        &http.Client{Timeout: cfg.Timeout},
		limiter:     limiter,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messages lays out the system prompt, grounding passages, prior turns and
// the question in the order the chat endpoint expects.
func (p *Provider) messages(req completion.Request) []message {
	msgs := []message{{Role: "system", Content: p.system}}
	if len(req.Context) > 0 {
		var sb strings.Builder
		sb.WriteString("Use the following pieces of context to answer the question at the end. ")
		sb.WriteString("If the context does not contain the answer, say that the context does not contain it.\n\n")
		sb.WriteString(strings.Join(req.Context, "\n\n"))
		msgs = append(msgs, message{Role: "system", Content: sb.String()})
	}
	for _, turn := range req.History {
		msgs = append(msgs,
			message{Role: "user", Content: turn.Query},
			message{Role: "assistant", Content: turn.Answer},
		)
	}
	return append(msgs, message{Role: "user", Content: req.Prompt})
}

// Complete implements completion.Provider. A 429 response is reported as
// a *completion.StatusError so the client can back off.
func (p *Provider) Complete(ctx context.Context, req completion.Request) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]any{
		"model":       p.model,
		"messages":    p.messages(req),
		"temperature": p.temperature,
	})
	if err != nil {
		return "", err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &completion.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

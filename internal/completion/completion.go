// Package completion wraps the external language completion service. The
// Client absorbs every failure and always hands back usable text.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"taxrag/internal/backoff"
	"taxrag/internal/domain"
)

// Degraded answers returned instead of errors.
const (
	ErrorText       = "Sorry, I encountered an error processing your request."
	UnavailableText = "I am currently experiencing issues. Please try again later."
)

// ErrRateLimited marks a failure that should be retried after a backoff.
var ErrRateLimited = errors.New("rate limited")

// Request is one call to the completion service.
type Request struct {
	Prompt string
	// Context holds grounding passages; empty for ungrounded calls.
	Context []string
	History []domain.ConversationTurn
}

// Provider performs a single completion call with no retries.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError is a non-2xx response from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion http %d: %s", e.Code, e.Body)
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusTooManyRequests
}

// Client retries rate-limited calls with exponential backoff and turns
// every other outcome into text.
type Client struct {
	provider Provider
	policy   backoff.Policy
	sleep    backoff.Sleeper
	log      *slog.Logger
	calls    atomic.Int64
}

// NewClient wraps provider. A nil sleep uses real time.
func NewClient(provider Provider, policy backoff.Policy, sleep backoff.Sleeper, log *slog.Logger) *Client {
	if sleep == nil {
		sleep = backoff.Sleep
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{provider: provider, policy: policy, sleep: sleep, log: log}
}

// Provider returns the wrapped provider for callers that need a single,
// unretried call.
func (c *Client) Provider() Provider { return c.provider }

// Calls returns how many provider calls the client has made.
func (c *Client) Calls() int { return int(c.calls.Load()) }

// Complete asks the service about query with optional grounding passages.
// Rate limits are retried up to the policy's attempt count, waiting
// Delay(attempt) after each one; other failures return ErrorText at once;
// exhaustion returns UnavailableText.
func (c *Client) Complete(ctx context.Context, query string, passages []string) string {
	req := Request{Prompt: query, Context: passages}
	for attempt := 0; attempt < c.policy.Attempts(); attempt++ {
		c.calls.Add(1)
		text, err := c.provider.Complete(ctx, req)
		if err == nil {
			return text
		}
		if !IsRateLimited(err) {
			c.log.Error("completion failed", "error", err, "attempt", attempt)
			return ErrorText
		}
		wait := c.policy.Delay(attempt)
		c.log.Warn("completion rate limited, backing off", "attempt", attempt, "wait", wait)
		if err := c.sleep(ctx, wait); err != nil {
			c.log.Warn("completion backoff interrupted", "error", err)
			return UnavailableText
		}
	}
	c.log.Error("completion retries exhausted", "attempts", c.policy.Attempts())
	return UnavailableText
}

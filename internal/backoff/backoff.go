// Package backoff holds the exponential retry policy shared by the remote
// clients, with an injectable sleeper so callers can be tested without
// waiting in real time.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes how many times to retry and how long to wait between
// attempts. The wait before attempt n+1 is Base * 2^n, plus a random jitter
// in [0, Jitter), capped at Max when Max > 0.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	Jitter     time.Duration
	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// Default is the completion retry policy: 3 attempts waiting 1s, 2s, 4s.
func Default() Policy {
	return Policy{MaxRetries: 3, Base: time.Second}
}

// Delay returns the wait that follows a failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	// saturate instead of wrapping for large bases
	d := time.Duration(math.MaxInt64)
	if p.Base <= d>>attempt {
		d = p.Base << attempt
	}
	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		if j := time.Duration(r() * float64(p.Jitter)); d <= math.MaxInt64-j {
			d += j
		} else {
			d = math.MaxInt64
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Attempts returns the number of calls the policy allows, at least one.
func (p Policy) Attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder is a Sleeper for tests that records waits instead of sleeping.
type Recorder struct {
	Waits []time.Duration
}

// Sleep implements Sleeper.
func (r *Recorder) Sleep(_ context.Context, d time.Duration) error {
	r.Waits = append(r.Waits, d)
	return nil
}

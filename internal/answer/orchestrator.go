// Package answer decides, per query, whether to answer from retrieved
// context, augment with an ungrounded completion, or refuse.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taxrag/internal/completion"
	"taxrag/internal/conversation"
	"taxrag/internal/domain"
	"taxrag/internal/index"
	"taxrag/internal/policy"
)

const (
	DefaultK = 5

	RefusalText = "⚠️ I can only answer finance or tax-related queries. Please ask something related to tax or finance."

	blendSeparator = "\n\n🔹 Additional info from LLM:\n"
)

// DefaultInsufficiencyPhrases mark a synthesized answer as incomplete.
var DefaultInsufficiencyPhrases = []string{"not mention", "does not contain"}

// Options tune the orchestrator. Zero values select defaults.
type Options struct {
	K int
	// MaxDistance drops results farther than this from the query; 0 keeps
	// every hit.
	MaxDistance          float64
	InsufficiencyPhrases []string
	RefusalText          string
	Logger               *slog.Logger
	Tracer               trace.Tracer
}

// Orchestrator answers queries against one index and one session.
type Orchestrator struct {
	mu         sync.Mutex
	handle     index.Handle
	session    *conversation.MemorySession
	classifier *policy.Classifier
	client     *completion.Client

	k           int
	maxDistance float64
	phrases     []string
	refusal     string
	log         *slog.Logger
	tracer      trace.Tracer
}

// New wires the orchestrator. handle, session, classifier and client are
// required.
func New(handle index.Handle, session *conversation.MemorySession, classifier *policy.Classifier, client *completion.Client, opts Options) (*Orchestrator, error) {
	switch {
	case handle == nil:
		return nil, errors.New("answer: nil index handle")
	case session == nil:
		return nil, errors.New("answer: nil memory session")
	case classifier == nil:
		return nil, errors.New("answer: nil classifier")
	case client == nil:
		return nil, errors.New("answer: nil completion client")
	}
	if opts.K <= 0 {
		opts.K = DefaultK
	}
	if opts.MaxDistance < 0 {
		return nil, fmt.Errorf("answer: negative max distance %v", opts.MaxDistance)
	}
	phrases := opts.InsufficiencyPhrases
	if len(phrases) == 0 {
		phrases = DefaultInsufficiencyPhrases
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	if opts.RefusalText == "" {
		opts.RefusalText = RefusalText
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("taxrag/answer")
	}
	return &Orchestrator{
		handle:      handle,
		session:     session,
		classifier:  classifier,
		client:      client,
		k:           opts.K,
		maxDistance: opts.MaxDistance,
		phrases:     lowered,
		refusal:     opts.RefusalText,
		log:         opts.Logger,
		tracer:      opts.Tracer,
	}, nil
}

// Session returns the memory session the orchestrator writes to.
func (o *Orchestrator) Session() *conversation.MemorySession { return o.session }

// Answer runs one query through retrieval, evaluation and fallback. It
// always produces an answer and records the turn in the session.
func (o *Orchestrator) Answer(ctx context.Context, query string) domain.Answer {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "answer")
	defer span.End()

	var ans domain.Answer
	results := o.retrieve(ctx, query)
	switch {
	case len(results) == 0:
		ans = o.pureFallback(ctx, query)
	case unrelated(results) && !o.classifier.IsInDomain(query):
		// Nothing shares a term with the query, so synthesis could only
		// report insufficiency and the query would be refused anyway.
		ans = o.refuse(ctx, query, nil, 0)
	default:
		ans = o.fromRetrieval(ctx, query, results)
	}

	span.SetAttributes(
		attribute.String("answer.provenance", string(ans.Provenance)),
		attribute.Int("answer.completion_calls", ans.CompletionCalls),
	)
	o.log.Info("query answered",
		"session", o.session.ID(),
		"provenance", ans.Provenance,
		"sources", len(ans.Sources),
		"completion_calls", ans.CompletionCalls,
	)
	o.session.Append(query, ans.Text)
	return ans
}

func (o *Orchestrator) retrieve(ctx context.Context, query string) []domain.SearchResult {
	ctx, span := o.tracer.Start(ctx, "retrieve")
	defer span.End()

	results, err := o.handle.Query(ctx, query, o.k)
	if err != nil {
		var rerr *index.RetrievalError
		if errors.As(err, &rerr) {
			o.log.Warn("retrieval failed, treating as empty", "error", rerr.Err)
		} else {
			o.log.Warn("retrieval failed, treating as empty", "error", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil
	}

	kept := results[:0:0]
	for _, r := range results {
		if o.maxDistance > 0 && r.Distance > o.maxDistance {
			continue
		}
		if strings.TrimSpace(r.Chunk.Text) == "" {
			continue
		}
		kept = append(kept, r)
	}
	span.SetAttributes(attribute.Int("retrieve.hits", len(results)), attribute.Int("retrieve.kept", len(kept)))
	o.log.Debug("retrieval", "hits", len(results), "kept", len(kept))
	return kept
}

// unrelated reports whether every hit is orthogonal to the query.
func unrelated(results []domain.SearchResult) bool {
	for _, r := range results {
		if r.Distance < 1 {
			return false
		}
	}
	return true
}

func (o *Orchestrator) fromRetrieval(ctx context.Context, query string, results []domain.SearchResult) domain.Answer {
	retrieved, err := o.synthesize(ctx, query, results)
	calls := 1
	if err == nil && !o.insufficient(retrieved) {
		o.log.Debug("retrieval sufficient")
		return domain.Answer{Text: retrieved, Provenance: domain.ProvenanceRetrieved, Sources: results, CompletionCalls: calls}
	}
	if err != nil {
		o.log.Warn("synthesis failed", "error", err)
	} else {
		o.log.Debug("retrieval insufficient")
	}

	if !o.classifier.IsInDomain(query) {
		return o.refuse(ctx, query, results, calls)
	}

	ctx, span := o.tracer.Start(ctx, "augment")
	defer span.End()
	fallback := o.client.Complete(ctx, query, nil)
	calls++
	if err != nil {
		return domain.Answer{Text: fallback, Provenance: domain.ProvenanceFallback, Sources: results, CompletionCalls: calls}
	}
	return domain.Answer{
		Text:            retrieved + blendSeparator + fallback,
		Provenance:      domain.ProvenanceBlended,
		Sources:         results,
		CompletionCalls: calls,
	}
}

func (o *Orchestrator) pureFallback(ctx context.Context, query string) domain.Answer {
	if !o.classifier.IsInDomain(query) {
		return o.refuse(ctx, query, nil, 0)
	}
	ctx, span := o.tracer.Start(ctx, "fallback")
	defer span.End()
	text := o.client.Complete(ctx, query, nil)
	return domain.Answer{Text: text, Provenance: domain.ProvenanceFallback, CompletionCalls: 1}
}

func (o *Orchestrator) refuse(ctx context.Context, query string, results []domain.SearchResult, calls int) domain.Answer {
	_, span := o.tracer.Start(ctx, "refuse")
	defer span.End()
	o.log.Info("query outside domain", "query_len", len(query))
	return domain.Answer{Text: o.refusal, Provenance: domain.ProvenanceRefused, Sources: results, CompletionCalls: calls}
}

// synthesize makes one unretried grounded call. A panic in the provider is
// reported as an error.
func (o *Orchestrator) synthesize(ctx context.Context, query string, results []domain.SearchResult) (text string, err error) {
	ctx, span := o.tracer.Start(ctx, "synthesize")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesis panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "synthesis failed")
		}
	}()

	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Chunk.Text
	}
	return o.client.Provider().Complete(ctx, completion.Request{
		Prompt:  query,
		Context: passages,
		History: o.session.Recent(),
	})
}

func (o *Orchestrator) insufficient(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range o.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

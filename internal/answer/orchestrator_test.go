package answer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"taxrag/internal/backoff"
	"taxrag/internal/completion"
	"taxrag/internal/conversation"
	"taxrag/internal/domain"
	"taxrag/internal/embedding/tfidf"
	"taxrag/internal/index"
	"taxrag/internal/policy"
)

// fakeProvider answers grounded and ungrounded requests separately.
type fakeProvider struct {
	grounded      func(completion.Request) (string, error)
	ungrounded    func(completion.Request) (string, error)
	groundedCalls int
	fallbackCalls int
	lastGrounded  completion.Request
}

func (f *fakeProvider) Complete(_ context.Context, req completion.Request) (string, error) {
	if len(req.Context) > 0 {
		f.groundedCalls++
		f.lastGrounded = req
		return f.grounded(req)
	}
	f.fallbackCalls++
	return f.ungrounded(req)
}

func (f *fakeProvider) total() int { return f.groundedCalls + f.fallbackCalls }

func reply(text string) func(completion.Request) (string, error) {
	return func(completion.Request) (string, error) { return text, nil }
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var taxCorpus = []domain.Chunk{
	{ID: "d:0", Source: "tds.txt", Text: "TDS on salary is deducted by the employer at the applicable income tax slab rate."},
	{ID: "d:1", Source: "gst.txt", Text: "GST is charged on the supply of goods and services."},
}

func newOrchestrator(t *testing.T, chunks []domain.Chunk, p *fakeProvider) *Orchestrator {
	t.Helper()
	ix, err := index.Build(context.Background(), tfidf.NewEmbedder(), chunks, index.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return newWithHandle(t, ix, p)
}

func newWithHandle(t *testing.T, h index.Handle, p *fakeProvider) *Orchestrator {
	t.Helper()
	rec := &backoff.Recorder{}
	client := completion.NewClient(p, backoff.Default(), rec.Sleep, quiet)
	o, err := New(h, conversation.NewSession(conversation.DefaultBudget, conversation.WordCounter{}),
		policy.NewClassifier(nil), client, Options{Logger: quiet})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func TestAnswerRetrievedWhenSufficient(t *testing.T) {
	p := &fakeProvider{
		grounded:   reply("TDS on salary is deducted at your slab rate."),
		ungrounded: reply("unused"),
	}
	o := newOrchestrator(t, taxCorpus, p)

	ans := o.Answer(context.Background(), "What is the TDS rate for salary?")
	if ans.Provenance != domain.ProvenanceRetrieved {
		t.Fatalf("provenance = %s", ans.Provenance)
	}
	if ans.Text != "TDS on salary is deducted at your slab rate." {
		t.Errorf("text = %q", ans.Text)
	}
	if p.fallbackCalls != 0 {
		t.Errorf("expected no fallback call, got %d", p.fallbackCalls)
	}
	if ans.CompletionCalls != 1 {
		t.Errorf("completion calls = %d", ans.CompletionCalls)
	}
	if len(ans.Sources) != len(taxCorpus) || ans.Sources[0].Chunk.ID != "d:0" {
		t.Errorf("unexpected sources: %+v", ans.Sources)
	}
	if got := p.lastGrounded.Context; len(got) != len(taxCorpus) || !strings.Contains(got[0], "TDS on salary") {
		t.Errorf("grounding context = %v", got)
	}
}

func TestAnswerOutOfDomainRefusesWithoutCalls(t *testing.T) {
	p := &fakeProvider{grounded: reply("x"), ungrounded: reply("sunny")}
	o := newOrchestrator(t, taxCorpus, p)

	ans := o.Answer(context.Background(), "What's the weather today?")
	if ans.Provenance != domain.ProvenanceRefused {
		t.Fatalf("provenance = %s", ans.Provenance)
	}
	if ans.Text != RefusalText {
		t.Errorf("text = %q", ans.Text)
	}
	if p.total() != 0 || ans.CompletionCalls != 0 {
		t.Errorf("expected zero completion calls, provider saw %d, answer says %d", p.total(), ans.CompletionCalls)
	}
}

func TestAnswerBlendsWhenRetrievalInsufficient(t *testing.T) {
	p := &fakeProvider{
		grounded:   reply("The context does not contain details about exports."),
		ungrounded: reply("Exports are zero-rated under GST."),
	}
	o := newOrchestrator(t, taxCorpus, p)

	ans := o.Answer(context.Background(), "Is GST charged on exports of goods?")
	if ans.Provenance != domain.ProvenanceBlended {
		t.Fatalf("provenance = %s", ans.Provenance)
	}
	want := "The context does not contain details about exports.\n\n🔹 Additional info from LLM:\nExports are zero-rated under GST."
	if ans.Text != want {
		t.Errorf("text = %q, want %q", ans.Text, want)
	}
	if p.groundedCalls != 1 || p.fallbackCalls != 1 || ans.CompletionCalls != 2 {
		t.Errorf("calls grounded=%d fallback=%d answer=%d", p.groundedCalls, p.fallbackCalls, ans.CompletionCalls)
	}
}

func TestAnswerBlendsForQueryOutsideCorpus(t *testing.T) {
	p := &fakeProvider{
		grounded:   reply("The provided context does not contain any capital gains exemption."),
		ungrounded: reply("Section 54 exempts gains reinvested in a house."),
	}
	o := newOrchestrator(t, taxCorpus, p)

	ans := o.Answer(context.Background(), "What is the capital gains exemption under a section not in the corpus?")
	if ans.Provenance != domain.ProvenanceBlended {
		t.Fatalf("provenance = %s (grounded=%d fallback=%d)", ans.Provenance, p.groundedCalls, p.fallbackCalls)
	}
	if !strings.HasSuffix(ans.Text, blendSeparator+"Section 54 exempts gains reinvested in a house.") {
		t.Errorf("text = %q", ans.Text)
	}
	if p.groundedCalls != 1 || p.fallbackCalls != 1 || ans.CompletionCalls != 2 {
		t.Errorf("calls grounded=%d fallback=%d answer=%d", p.groundedCalls, p.fallbackCalls, ans.CompletionCalls)
	}
}

func TestAnswerUnrelatedOutOfDomainSkipsSynthesis(t *testing.T) {
	p := &fakeProvider{grounded: reply("does not mention weather"), ungrounded: reply("sunny")}
	o := newOrchestrator(t, taxCorpus, p)

	ans := o.Answer(context.Background(), "Will it rain in Pune tomorrow?")
	if ans.Provenance != domain.ProvenanceRefused || p.total() != 0 {
		t.Errorf("got %s with %d provider calls", ans.Provenance, p.total())
	}
	if len(ans.Sources) != 0 {
		t.Errorf("refusal carries sources: %+v", ans.Sources)
	}
}

func TestAnswerInsufficientOutOfDomainRefuses(t *testing.T) {
	p := &fakeProvider{grounded: reply("It does NOT MENTION that."), ungrounded: reply("unused")}
	o := newOrchestrator(t, taxCorpus, p)

	ans := o.Answer(context.Background(), "Who supplies goods to the employer?")
	if ans.Provenance != domain.ProvenanceRefused {
		t.Fatalf("provenance = %s", ans.Provenance)
	}
	if p.fallbackCalls != 0 {
		t.Errorf("unexpected fallback call")
	}
}

func TestAnswerSynthesisFailureFallsBack(t *testing.T) {
	p := &fakeProvider{
		grounded:   func(completion.Request) (string, error) { return "", errors.New("boom") },
		ungrounded: reply("Salary TDS follows the slab rates."),
	}
	o := newOrchestrator(t, taxCorpus, p)

	ans := o.Answer(context.Background(), "What is the TDS rate for salary?")
	if ans.Provenance != domain.ProvenanceFallback || ans.Text != "Salary TDS follows the slab rates." {
		t.Fatalf("got %s %q", ans.Provenance, ans.Text)
	}
}

func TestAnswerSynthesisPanicIsRecovered(t *testing.T) {
	p := &fakeProvider{
		grounded:   func(completion.Request) (string, error) { panic("provider bug") },
		ungrounded: reply("fallback text"),
	}
	o := newOrchestrator(t, taxCorpus, p)

	ans := o.Answer(context.Background(), "What is the TDS rate for salary?")
	if ans.Provenance != domain.ProvenanceFallback || ans.Text != "fallback text" {
		t.Fatalf("got %s %q", ans.Provenance, ans.Text)
	}
}

func TestAnswerEmptyIndexNeverRetrieved(t *testing.T) {
	p := &fakeProvider{grounded: reply("x"), ungrounded: reply("Section 80C allows deductions.")}
	o := newOrchestrator(t, nil, p)

	in := o.Answer(context.Background(), "Which deduction applies under section 80C?")
	if in.Provenance != domain.ProvenanceFallback || in.Text != "Section 80C allows deductions." {
		t.Errorf("in-domain: got %s %q", in.Provenance, in.Text)
	}
	out := o.Answer(context.Background(), "Recommend a movie")
	if out.Provenance != domain.ProvenanceRefused {
		t.Errorf("out-of-domain: got %s", out.Provenance)
	}
	if p.groundedCalls != 0 {
		t.Errorf("no synthesis expected on an empty index")
	}
}

type failingHandle struct{}

func (failingHandle) Query(_ context.Context, text string, _ int) ([]domain.SearchResult, error) {
	return nil, &index.RetrievalError{Query: text, Err: errors.New("embedder offline")}
}

func (failingHandle) Len() int { return 1 }

func TestAnswerRetrievalErrorIsEmptyRetrieval(t *testing.T) {
	p := &fakeProvider{grounded: reply("x"), ungrounded: reply("ITR is due in July.")}
	o := newWithHandle(t, failingHandle{}, p)

	ans := o.Answer(context.Background(), "When is the ITR due?")
	if ans.Provenance != domain.ProvenanceFallback {
		t.Fatalf("provenance = %s", ans.Provenance)
	}
	if p.groundedCalls != 0 || p.fallbackCalls != 1 {
		t.Errorf("calls grounded=%d fallback=%d", p.groundedCalls, p.fallbackCalls)
	}
}

func TestAnswerRateLimitedFallbackDegrades(t *testing.T) {
	p := &fakeProvider{
		grounded: reply("x"),
		ungrounded: func(completion.Request) (string, error) {
			return "", completion.ErrRateLimited
		},
	}
	o := newOrchestrator(t, nil, p)

	ans := o.Answer(context.Background(), "How do I claim a tax refund?")
	if ans.Text != completion.UnavailableText {
		t.Errorf("text = %q", ans.Text)
	}
	if p.fallbackCalls != backoff.Default().Attempts() {
		t.Errorf("fallback calls = %d", p.fallbackCalls)
	}
}

func TestAnswerRecordsEveryTurn(t *testing.T) {
	p := &fakeProvider{grounded: reply("TDS is deducted at slab rate."), ungrounded: reply("unused")}
	o := newOrchestrator(t, taxCorpus, p)

	o.Answer(context.Background(), "What is the TDS rate for salary?")
	o.Answer(context.Background(), "What's the weather today?")

	turns := o.Session().Recent()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[1].Answer != RefusalText {
		t.Errorf("refusal not recorded: %q", turns[1].Answer)
	}

	o.Answer(context.Background(), "What is the TDS rate for salary?")
	if hist := p.lastGrounded.History; len(hist) != 2 || hist[0].Query != "What is the TDS rate for salary?" {
		t.Errorf("history not passed to synthesis: %+v", hist)
	}
}

func TestMaxDistanceDropsWeakMatches(t *testing.T) {
	ix, err := index.Build(context.Background(), tfidf.NewEmbedder(), taxCorpus, index.Options{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	p := &fakeProvider{grounded: reply("x"), ungrounded: reply("fallback")}
	client := completion.NewClient(p, backoff.Default(), (&backoff.Recorder{}).Sleep, quiet)
	o, err := New(ix, conversation.NewSession(0, nil), policy.NewClassifier(nil), client,
		Options{MaxDistance: 1e-9, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	ans := o.Answer(context.Background(), "What is the TDS rate for salary?")
	if ans.Provenance != domain.ProvenanceFallback || p.groundedCalls != 0 {
		t.Errorf("expected fallback without synthesis, got %s (grounded=%d)", ans.Provenance, p.groundedCalls)
	}
}

func TestCustomInsufficiencyPhrases(t *testing.T) {
	ix, err := index.Build(context.Background(), tfidf.NewEmbedder(), taxCorpus, index.Options{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	p := &fakeProvider{grounded: reply("I am unsure about TDS."), ungrounded: reply("more")}
	client := completion.NewClient(p, backoff.Default(), (&backoff.Recorder{}).Sleep, quiet)
	o, err := New(ix, conversation.NewSession(0, nil), policy.NewClassifier(nil), client,
		Options{InsufficiencyPhrases: []string{"Unsure"}, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	if ans := o.Answer(context.Background(), "What is the TDS rate for salary?"); ans.Provenance != domain.ProvenanceBlended {
		t.Errorf("provenance = %s", ans.Provenance)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	if _, err := New(nil, nil, nil, nil, Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAnswerEmitsStageSpans(t *testing.T) {
	ix, err := index.Build(context.Background(), tfidf.NewEmbedder(), taxCorpus, index.Options{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	p := &fakeProvider{grounded: reply("does not contain it"), ungrounded: reply("more")}
	client := completion.NewClient(p, backoff.Default(), (&backoff.Recorder{}).Sleep, quiet)
	o, err := New(ix, conversation.NewSession(0, nil), policy.NewClassifier(nil), client,
		Options{Logger: quiet, Tracer: tp.Tracer("test")})
	if err != nil {
		t.Fatal(err)
	}
	o.Answer(context.Background(), "What is the TDS rate for salary?")

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	want := []string{"retrieve", "synthesize", "augment", "answer"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("spans = %v, want %v", names, want)
	}
}

package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var corpus = []string{
	"TDS on salary is deducted under section 192 at slab rates.",
	"GST is charged on the supply of goods and services.",
	"Capital gains on listed equity shares are taxed under section 112A.",
}

func TestEmbedIsNormalisedAndDeterministic(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	if err := e.Prepare(ctx, corpus); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	a, err := e.Embed(ctx, "TDS rate for salary")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, "TDS rate for salary")
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("embedding not deterministic (-a +b):\n%s", diff)
	}
	norm := 0.0
	for _, v := range a {
		norm += v * v
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Errorf("norm = %f, want 1", norm)
	}
}

func TestEmbedUnknownTextIsZero(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	_ = e.Prepare(ctx, corpus)
	v, err := e.Embed(ctx, "weather today")
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatal("expected zero vector")
		}
	}
}

func TestEmbedBeforePrepareFails(t *testing.T) {
	if _, err := NewEmbedder().Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	_ = e.Prepare(ctx, corpus)
	data, err := e.MarshalState()
	if err != nil {
		t.Fatal(err)
	}
	restored := NewEmbedder()
	if err := restored.UnmarshalState(data); err != nil {
		t.Fatal(err)
	}
	if restored.Dimension() != e.Dimension() {
		t.Fatalf("dimension %d != %d", restored.Dimension(), e.Dimension())
	}
	for _, q := range []string{"section 192 salary", "gst on services", "112A equity"} {
		a, _ := e.Embed(ctx, q)
		b, _ := restored.Embed(ctx, q)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("%q differs after restore:\n%s", q, diff)
		}
	}
}

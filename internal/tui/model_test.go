package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"taxrag/internal/domain"
	"taxrag/internal/ingest"
)

type echoAnswerer struct{ queries []string }

func (e *echoAnswerer) Answer(_ context.Context, q string) domain.Answer {
	e.queries = append(e.queries, q)
	return domain.Answer{Text: "answer to " + q, Provenance: domain.ProvenanceRetrieved}
}

func TestIsExit(t *testing.T) {
	for _, s := range []string{"exit", "EXIT", " Exit \n"} {
		if !IsExit(s) {
			t.Errorf("IsExit(%q) = false", s)
		}
	}
	for _, s := range []string{"exit now", "quit", ""} {
		if IsExit(s) {
			t.Errorf("IsExit(%q) = true", s)
		}
	}
}

func TestRunPlain(t *testing.T) {
	a := &echoAnswerer{}
	var out strings.Builder
	in := strings.NewReader("What is TDS?\nwhat is GST?\nExit\nnever asked\n")
	if err := RunPlain(context.Background(), in, &out, a, "corpus: 2 files"); err != nil {
		t.Fatal(err)
	}
	if len(a.queries) != 2 || a.queries[0] != "What is TDS?" {
		t.Errorf("queries = %v", a.queries)
	}
	if !strings.HasPrefix(out.String(), "corpus: 2 files\n") {
		t.Errorf("summary not printed: %q", out.String())
	}
	if !strings.Contains(out.String(), "Assistant: answer to what is GST?\n") {
		t.Errorf("answer not printed: %q", out.String())
	}
}

func TestRunPlainStopsAtEOF(t *testing.T) {
	a := &echoAnswerer{}
	var out strings.Builder
	if err := RunPlain(context.Background(), strings.NewReader("one"), &out, a, ""); err != nil {
		t.Fatal(err)
	}
	if len(a.queries) != 1 {
		t.Errorf("queries = %v", a.queries)
	}
}

func enter(m Model, text string) (Model, tea.Cmd) {
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestModelAsksAndRecordsAnswer(t *testing.T) {
	a := &echoAnswerer{}
	m := New(context.Background(), a, "summary", nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m = next.(Model)

	m, cmd := enter(m, "What is TDS?")
	if cmd == nil || !m.busy {
		t.Fatal("expected an answer command")
	}
	msg := cmd()
	next, _ = m.Update(msg)
	m = next.(Model)

	if len(m.transcript) != 1 || m.transcript[0].answer.Text != "answer to What is TDS?" {
		t.Fatalf("transcript = %+v", m.transcript)
	}
	if m.busy || m.status != "Answered from the document corpus." {
		t.Errorf("status = %q busy=%v", m.status, m.busy)
	}
	if !strings.Contains(m.View(), "answer to What is TDS?") {
		t.Errorf("view missing answer")
	}
}

func TestModelExitSentinelQuits(t *testing.T) {
	a := &echoAnswerer{}
	m := New(context.Background(), a, "", nil)
	_, cmd := enter(m, "EXIT")
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("expected tea.QuitMsg")
	}
	if len(a.queries) != 0 {
		t.Errorf("exit must not be answered")
	}
}

func TestModelWarnsWhenCorpusChanges(t *testing.T) {
	events := make(chan ingest.Event, 1)
	events <- ingest.Event{Path: "data/new.pdf", Op: ingest.OpCreated}
	m := New(context.Background(), &echoAnswerer{}, "", events)

	msg := m.waitForChange()()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if len(m.stale) != 1 || !strings.Contains(m.stale[0], "data/new.pdf") {
		t.Errorf("stale = %v", m.stale)
	}
	if !strings.Contains(m.status, "rebuild") {
		t.Errorf("status = %q", m.status)
	}
	if cmd == nil {
		t.Error("expected the watch to be re-armed")
	}
}

func TestHighlightBestSentence(t *testing.T) {
	text := "GST applies to goods. TDS on salary uses slab rates."
	got := highlightBestSentence(text, "tds salary")
	if !strings.Contains(got, "GST applies to goods.") || !strings.Contains(got, "TDS on salary uses slab rates.") {
		t.Errorf("sentences lost: %q", got)
	}
	if highlightBestSentence("   ", "q") != "   " {
		t.Error("blank text should pass through")
	}
}

// Package tui is the interactive chat front end: a Bubble Tea model and a
// plain line loop for terminals without a TTY.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"taxrag/internal/domain"
	"taxrag/internal/ingest"
)

// ExitSentinel ends the chat loop when typed on its own, in any case.
const ExitSentinel = "exit"

// Answerer is the chat-facing subset of the answer orchestrator.
type Answerer interface {
	Answer(ctx context.Context, query string) domain.Answer
}

// IsExit reports whether line is the exit sentinel.
func IsExit(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), ExitSentinel)
}

type exchange struct {
	query  string
	answer domain.Answer
}

type answerMsg struct {
	query  string
	answer domain.Answer
}

type corpusChangedMsg struct {
	event ingest.Event
	ok    bool
}

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	ctx      context.Context
	answerer Answerer
	events   <-chan ingest.Event

	input      textinput.Model
	viewport   viewport.Model
	transcript []exchange
	summary    string
	status     string
	stale      []string
	busy       bool
	ready      bool
}

// New creates a chat model. events may be nil when the corpus is not
// watched.
func New(ctx context.Context, answerer Answerer, summary string, events <-chan ingest.Event) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a tax or finance question, or type exit"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		answerer: answerer,
		events:   events,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Index loaded. Ask away.",
	}
}

// Init starts the cursor blink and the corpus watch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange())
}

func (m Model) waitForChange() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		return corpusChangedMsg{event: ev, ok: ok}
	}
}

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		return answerMsg{query: q, answer: m.answerer.Answer(m.ctx, q)}
	}
}

// Update handles key, window, answer and corpus events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.busy = false
		m.transcript = append(m.transcript, exchange{query: msg.query, answer: msg.answer})
		m.status = statusFor(msg.answer)
		m.refresh()
		return m, nil
	case corpusChangedMsg:
		if !msg.ok {
			return m, nil
		}
		m.stale = append(m.stale, fmt.Sprintf("%s %s", msg.event.Op, msg.event.Path))
		m.status = "Corpus changed since the index was built; rebuild with `taxrag index` to pick it up."
		return m, m.waitForChange()
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			q := m.input.Value()
			if IsExit(q) {
				return m, tea.Quit
			}
			if strings.TrimSpace(q) == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Thinking..."
			m.input.SetValue("")
			return m, m.ask(q)
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the header, transcript, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Tax & Finance Assistant")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	if len(m.stale) > 0 {
		statusStyle = statusStyle.Foreground(lipgloss.Color("11"))
	}
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + transcript + "\n" + input + "\n" + statusStyle.Render(m.status)
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for i, ex := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(queryStyle.Render("You: " + ex.query))
		b.WriteString("\n")
		b.WriteString(ex.answer.Text)
		if len(ex.answer.Sources) > 0 {
			top := ex.answer.Sources[0]
			b.WriteString("\n")
			b.WriteString(sourceStyle.Render(fmt.Sprintf("source: %s p.%d  distance=%.3f", top.Chunk.Source, top.Chunk.Page, top.Distance)))
			b.WriteString("\n")
			b.WriteString(highlightBestSentence(top.Chunk.Text, ex.query))
		}
	}
	return b.String()
}

func statusFor(a domain.Answer) string {
	switch a.Provenance {
	case domain.ProvenanceRetrieved:
		return "Answered from the document corpus."
	case domain.ProvenanceBlended:
		return "Corpus answer supplemented by the language model."
	case domain.ProvenanceFallback:
		return "Answered by the language model without corpus support."
	case domain.ProvenanceRefused:
		return "Out of scope."
	}
	return string(a.Provenance)
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe      = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)
	sentenceRe         = regexp.MustCompile(`[^.!?]+[.!?]?`)
)

// highlightBestSentence emphasises the sentence of text sharing the most
// words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	bestIdx, bestScore := -1, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}

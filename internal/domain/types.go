package domain

import "time"

// Document is a single corpus file split into its text pages.
type Document struct {
	ID    string
	Path  string
	Pages []string
}

// Text joins the document pages with newlines.
func (d Document) Text() string {
	n := 0
	for _, p := range d.Pages {
		n += len(p) + 1
	}
	buf := make([]byte, 0, n)
	for i, p := range d.Pages {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, p...)
	}
	return string(buf)
}

// Chunk is a bounded window of a document used as the retrieval unit.
type Chunk struct {
	ID         string
	DocumentID string
	Source     string
	Page       int // 1-based page the window starts in
	Start      int // rune offset into Document.Text()
	Index      int
	Text       string
}

// SearchResult is a retrieved chunk and its cosine distance to the query.
type SearchResult struct {
	Chunk    Chunk
	Distance float64
}

// ConversationTurn is one answered query kept for context continuity.
type ConversationTurn struct {
	Seq    int
	Query  string
	Answer string
	At     time.Time
}

// Provenance tags how an answer was produced.
type Provenance string

const (
	ProvenanceRetrieved Provenance = "retrieved"
	ProvenanceFallback  Provenance = "fallback"
	ProvenanceBlended   Provenance = "blended"
	ProvenanceRefused   Provenance = "refused"
)

// Answer is the result of one query. Only Text is shown to the user.
type Answer struct {
	Text       string
	Provenance Provenance
	Sources    []SearchResult
	// CompletionCalls counts logical completion requests made for this
	// answer (synthesis plus fallback), not counting retries.
	CompletionCalls int
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

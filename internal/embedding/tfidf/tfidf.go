package tfidf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strings"
)

// Embedder is a local TF-IDF vectorizer. Its fitted vocabulary can be
// saved with MarshalState and restored without the corpus.
type Embedder struct {
	vocabulary   map[string]int
	idf          []float64
	dimension    int
	prepared     bool
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder creates an unprepared TF-IDF embedder.
func NewEmbedder() *Embedder {
	return &Embedder{
		vocabulary:   make(map[string]int),
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Name identifies the embedder in persisted indexes.
func (e *Embedder) Name() string { return "tfidf" }

var (
	errEmptyCorpus = errors.New("tfidf: empty corpus")
	errNoTerms     = errors.New("tfidf: corpus has no indexable terms")
	errUnprepared  = errors.New("tfidf: embedder not prepared")
)

// Prepare fits the vocabulary and smoothed IDF weights on corpus. Terms
// are kept in lexical order so the vector layout is reproducible.
func (e *Embedder) Prepare(_ context.Context, corpus []string) error {
	if len(corpus) == 0 {
		return errEmptyCorpus
	}
	df := make(map[string]int)
	for _, text := range corpus {
		for term := range e.termCounts(text) {
			df[term]++
		}
	}
	if len(df) == 0 {
		return errNoTerms
	}
	terms := slices.Sorted(maps.Keys(df))
	n := float64(len(corpus))
	idf := make([]float64, len(terms))
	for i, term := range terms {
		idf[i] = 1 + math.Log((1+n)/(1+float64(df[term])))
	}
	e.setState(terms, idf)
	return nil
}

func (e *Embedder) setState(terms []string, idf []float64) {
	e.vocabulary = make(map[string]int, len(terms))
	for i, term := range terms {
		e.vocabulary[term] = i
	}
	e.idf = idf
	e.dimension = len(terms)
	e.prepared = true
}

// Dimension is the vocabulary size after Prepare.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed weights each known term by its frequency in text times its IDF and
// scales the result to unit length. Text without any known term yields the
// zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	if !e.prepared {
		return nil, errUnprepared
	}
	vec := make([]float64, e.dimension)
	known := 0
	for term, count := range e.termCounts(text) {
		if i, ok := e.vocabulary[term]; ok {
			vec[i] = float64(count) * e.idf[i]
			known += count
		}
	}
	if known == 0 {
		return vec, nil
	}
	var sq float64
	for _, v := range vec {
		sq += v * v
	}
	norm := math.Sqrt(sq)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func (e *Embedder) termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range e.tokenize(text) {
		counts[tok]++
	}
	return counts
}

type state struct {
	Terms []string  `json:"terms"`
	IDF   []float64 `json:"idf"`
}

// MarshalState serialises the vocabulary and IDF table.
func (e *Embedder) MarshalState() ([]byte, error) {
	if !e.prepared {
		return nil, errUnprepared
	}
	terms := make([]string, len(e.vocabulary))
	for term, i := range e.vocabulary {
		terms[i] = term
	}
	return json.Marshal(state{Terms: terms, IDF: e.idf})
}

// UnmarshalState restores a table written by MarshalState.
func (e *Embedder) UnmarshalState(data []byte) error {
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode tfidf state: %w", err)
	}
	if len(st.Terms) != len(st.IDF) {
		return fmt.Errorf("tfidf state: %d terms but %d idf values", len(st.Terms), len(st.IDF))
	}
	e.setState(st.Terms, st.IDF)
	return nil
}

func (e *Embedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	return slices.DeleteFunc(raw, func(t string) bool {
		_, stop := e.stopwords[t]
		return stop
	})
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now", "what", "which", "who", "how",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Package summarizer produces short extractive digests of the corpus that
// the chat loop shows before the first question.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"taxrag/internal/domain"
)

var (
	tokenPattern    = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)
	sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]?`)
)

// Frequency ranks sentences by the normalised frequency of their content
// words and keeps the best ones in document order.
type Frequency struct {
	stopwords map[string]struct{}
}

var _ domain.Summarizer = (*Frequency)(nil)

// NewFrequency returns a frequency summarizer with an English stopword list.
func NewFrequency() *Frequency {
	return &Frequency{stopwords: defaultStopwords()}
}

type sentence struct {
	text   string
	tokens []string
}

// Summarize returns at most maxSentences sentences of text (5 when
// maxSentences <= 0).
func (s *Frequency) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	var sentences []sentence
	for _, raw := range sentencePattern.FindAllString(text, -1) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		sentences = append(sentences, sentence{text: raw, tokens: s.tokens(raw)})
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(text), nil
	}

	freq := map[string]float64{}
	maxF := 0.0
	for _, sent := range sentences {
		for _, tok := range sent.tokens {
			freq[tok]++
			maxF = math.Max(maxF, freq[tok])
		}
	}

	scores := make([]float64, len(sentences))
	for i, sent := range sentences {
		if len(sent.tokens) == 0 {
			continue
		}
		for _, tok := range sent.tokens {
			scores[i] += freq[tok] / maxF
		}
		scores[i] /= math.Sqrt(float64(len(sent.tokens)))
	}
	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	if maxSentences > len(order) {
		maxSentences = len(order)
	}
	selected := order[:maxSentences]
	sort.Ints(selected)

	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx].text
	}
	return strings.Join(out, " "), nil
}

// Source is the digest line of one corpus file.
type Source struct {
	Path    string
	Chunks  int
	Summary string
}

// Digest summarizes each source of an indexed corpus in first-seen order,
// using perSource sentences for each.
func (s *Frequency) Digest(chunks []domain.Chunk, perSource int) ([]Source, error) {
	var order []string
	texts := map[string]*strings.Builder{}
	count := map[string]int{}
	end := map[string]int{}
	for _, ch := range chunks {
		b, ok := texts[ch.Source]
		if !ok {
			b = &strings.Builder{}
			texts[ch.Source] = b
			order = append(order, ch.Source)
		}
		count[ch.Source]++
		// Skip the runes already written by the previous overlapping window.
		runes := []rune(ch.Text)
		if skip := end[ch.Source] - ch.Start; ok && skip > 0 {
			if skip >= len(runes) {
				continue
			}
			runes = runes[skip:]
		} else if ok {
			b.WriteByte('\n')
		}
		b.WriteString(string(runes))
		end[ch.Source] = ch.Start + len([]rune(ch.Text))
	}
	out := make([]Source, 0, len(order))
	for _, src := range order {
		sum, err := s.Summarize(texts[src].String(), perSource)
		if err != nil {
			return nil, err
		}
		out = append(out, Source{Path: src, Chunks: count[src], Summary: sum})
	}
	return out, nil
}

func (s *Frequency) tokens(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

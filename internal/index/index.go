// Package index embeds chunks and answers nearest-neighbour queries over
// them. An Index is immutable once built or loaded and may be queried
// concurrently.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"taxrag/internal/domain"
	"taxrag/internal/embedding"
)

// Handle is the read-only view of an index used while answering queries.
type Handle interface {
	Query(ctx context.Context, text string, k int) ([]domain.SearchResult, error)
	Len() int
}

// RetrievalError reports a failure to search the index, typically because
// the query could not be embedded.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for %q: %v", e.Query, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Options tunes an index. The zero value is usable.
type Options struct {
	// CacheSize bounds the number of cached query embeddings. Zero uses 256,
	// negative disables the cache.
	CacheSize int
	Logger    *slog.Logger
}

// Index is a brute-force cosine index over embedded chunks.
type Index struct {
	embedder embedding.Embedder
	chunks   []domain.Chunk
	vectors  [][]float64
	cache    *lru.Cache[string, []float64]
	log      *slog.Logger
}

func newIndex(emb embedding.Embedder, opts Options) (*Index, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ix := &Index{embedder: emb, log: log}
	size := opts.CacheSize
	if size == 0 {
		size = 256
	}
	if size > 0 {
		c, err := lru.New[string, []float64](size)
		if err != nil {
			return nil, err
		}
		ix.cache = c
	}
	return ix, nil
}

// Build prepares the embedder on the chunk texts and embeds every chunk.
// Any embedding failure is returned: an index cannot be partially built.
func Build(ctx context.Context, emb embedding.Embedder, chunks []domain.Chunk, opts Options) (*Index, error) {
	ix, err := newIndex(emb, opts)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		ix.log.Warn("building empty index")
		return ix, nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	if err := emb.Prepare(ctx, texts); err != nil {
		return nil, fmt.Errorf("prepare embedder %s: %w", emb.Name(), err)
	}
	vectors := make([][]float64, len(chunks))
	for i, ch := range chunks {
		vec, err := emb.Embed(ctx, ch.Text)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %s: %w", ch.ID, err)
		}
		if i > 0 && len(vec) != len(vectors[0]) {
			return nil, fmt.Errorf("embed chunk %s: dimension %d, want %d", ch.ID, len(vec), len(vectors[0]))
		}
		vectors[i] = vec
	}
	ix.chunks = append([]domain.Chunk(nil), chunks...)
	ix.vectors = vectors
	ix.log.Info("index built", "embedder", emb.Name(), "entries", len(chunks), "dimension", len(vectors[0]))
	return ix, nil
}

// Len returns the number of entries.
func (ix *Index) Len() int { return len(ix.chunks) }

// Chunks returns a copy of the indexed chunks in insertion order.
func (ix *Index) Chunks() []domain.Chunk { return append([]domain.Chunk(nil), ix.chunks...) }

// Embedder returns the embedder the index was built with.
func (ix *Index) Embedder() embedding.Embedder { return ix.embedder }

// Query embeds text and returns the k entries closest to it by cosine
// distance, nearest first. Ties keep insertion order. An empty index
// yields no results and no error.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]domain.SearchResult, error) {
	if len(ix.chunks) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}
	vec, err := ix.embed(ctx, text)
	if err != nil {
		return nil, &RetrievalError{Query: text, Err: err}
	}
	if len(vec) != len(ix.vectors[0]) {
		return nil, &RetrievalError{Query: text, Err: fmt.Errorf("query dimension %d, index dimension %d", len(vec), len(ix.vectors[0]))}
	}

	dist := make([]float64, len(ix.vectors))
	for i := range ix.vectors {
		dist[i] = cosineDistance(ix.vectors[i], vec)
	}
	idxs := argsortAsc(dist)
	if k > len(idxs) {
		k = len(idxs)
	}
	results := make([]domain.SearchResult, 0, k)
	for _, j := range idxs[:k] {
		results = append(results, domain.SearchResult{Chunk: ix.chunks[j], Distance: dist[j]})
	}
	return results, nil
}

var errEmptyEmbedding = errors.New("empty query embedding")

func (ix *Index) embed(ctx context.Context, text string) ([]float64, error) {
	if ix.cache != nil {
		if v, ok := ix.cache.Get(text); ok {
			return v, nil
		}
	}
	v, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, errEmptyEmbedding
	}
	if ix.cache != nil {
		ix.cache.Add(text, v)
	}
	return v, nil
}

// cosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func cosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func argsortAsc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(i, j int) bool { return vals[idxs[i]] < vals[idxs[j]] })
	return idxs
}

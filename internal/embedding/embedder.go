// Package embedding defines how chunk and query text becomes a vector.
package embedding

import "context"

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(ctx context.Context, corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Stateful is implemented by embedders whose prepared state must be saved
// alongside a persisted index so that queries embed the same way after a
// reload.
type Stateful interface {
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

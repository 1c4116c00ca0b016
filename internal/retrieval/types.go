package retrieval

import (
	"context"

	"github.com/ent0n29/ragent/internal/session"
)

// Hit is one ranked excerpt. It shares its shape with persisted tool
// results so hits can be folded into history without conversion.
type Hit = session.Hit

// Result is the normalized answer to one search.
type Result struct {
	Query string `json:"query"`
	K     int    `json:"k"`
	Hits  []Hit  `json:"hits"`
}

// Backend is the raw search capability behind the adapter. Backends may
// over-return, return unsorted hits or leave fields empty; the Adapter
// normalizes.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// Searcher is what the reasoning engine consumes.
type Searcher interface {
	Search(ctx context.Context, query string, k int) (Result, error)
}

// Package engine defines the boundary to the embedding/query backend and
// provides a Chroma-backed implementation of it. The indexing core only
// talks to the Engine interface, so tests and alternative backends can
// swap in their own.
package engine

import (
	"context"
	"errors"
)

// ErrNotPersisted is returned by Restore when no serialized sub-index
// exists at the given folder. Callers rely on this to distinguish
// "not present" from a real I/O failure.
var ErrNotPersisted = errors.New("sub-index not persisted")

// Scored is one retrieved chunk of text. Score is a distance: lower
// means more relevant.
type Scored struct {
	Text  string
	Score float32
}

// Retriever answers a query from a single document's sub-index.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Scored, error)
}

// SubIndex is an opaque handle to one document's index.
type SubIndex interface {
	ID() string
	Retriever(topK int) Retriever
}

// Engine builds, persists and queries per-document sub-indices.
// BuildIndex replaces any previous index stored under the same id.
type Engine interface {
	BuildIndex(ctx context.Context, id string, text string) (SubIndex, error)
	Summarize(ctx context.Context, sub SubIndex) (string, error)
	Persist(sub SubIndex, folder string) error
	Restore(folder string) (SubIndex, error)
	Drop(ctx context.Context, id string) error
	SummaryRanker
}

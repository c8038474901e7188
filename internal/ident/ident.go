// Package ident generates identifiers for documents, branches, snapshots,
// and working snapshots.
package ident

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces globally unique, time-sortable identifiers.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type Generator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// UUIDv7 embeds a millisecond timestamp in the most significant bits with a
// random suffix, so the hyphenated string form sorts lexicographically in
// creation order on one process while staying collision-free across
// processes.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID creates a new UUIDv7 and returns it as a hyphenated string.
//
// Format: "01938c7a-1f2b-7d4e-a716-446655440000" (36 characters)
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined identifiers for testing.
//
// This enables deterministic snapshot and commit construction so golden
// traces compare byte-for-byte across runs.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := ident.NewFixedGenerator("id-1", "id-2")
//	gen.NewID() // "id-1"
//	gen.NewID() // "id-2"
//	gen.NewID() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined identifier.
// Panics once all ids are consumed; a test that draws more ids than it
// provided is a test bug, and failing fast beats silent reuse.
func (g *FixedGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic(fmt.Sprintf("FixedGenerator: all %d ids exhausted", len(g.ids)))
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Sequence creates a FixedGenerator yielding prefix-0, prefix-1, ... up to n.
func Sequence(prefix string, n int) *FixedGenerator {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return NewFixedGenerator(ids...)
}

// Package store defines the storage interface the counters engine
// consumes as an external collaborator: fact persistence and the
// index-hash lookups that make historical-fact retrieval O(index-hits)
// rather than O(all-facts). Two implementations are provided: an
// in-memory store for tests and single-process use, and a MongoDB-backed
// store for production.
package store

import (
	"context"

	"github.com/ppiankov/counters/internal/fact"
	"github.com/ppiankov/counters/internal/factindex"
)

// Store is the persistence boundary the counter producer's callers sit
// behind. Implementations must be safe for concurrent use.
type Store interface {
	// GetRelevantFacts returns every stored fact with at least one
	// fact-index entry whose hash appears in hashes, excluding the fact
	// identified by excludedFactID (typically the fact currently being
	// evaluated, to avoid a fact counting itself).
	GetRelevantFacts(ctx context.Context, hashes [][16]byte, excludedFactID string) ([]*fact.Fact, error)

	SaveFact(ctx context.Context, f *fact.Fact) error
	SaveFactIndexList(ctx context.Context, entries []factindex.Entry) error

	// ClearFactsCollection and ClearFactIndexCollection are test
	// affordances: they drop all stored facts / index entries.
	ClearFactsCollection(ctx context.Context) error
	ClearFactIndexCollection(ctx context.Context) error
}

package store

import (
	"context"
	"sync"

	"github.com/ppiankov/counters/internal/fact"
	"github.com/ppiankov/counters/internal/factindex"
)

// MemoryStore is an in-process Store backed by a map, a slice and a
// mutex, for tests and single-process deployments that don't need
// durability.
type MemoryStore struct {
	mu      sync.Mutex
	facts   map[string]*fact.Fact
	indexes []factindex.Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{facts: make(map[string]*fact.Fact)}
}

func (s *MemoryStore) SaveFact(_ context.Context, f *fact.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[f.ID] = f
	return nil
}

func (s *MemoryStore) SaveFactIndexList(_ context.Context, entries []factindex.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = append(s.indexes, entries...)
	return nil
}

func (s *MemoryStore) GetRelevantFacts(_ context.Context, hashes [][16]byte, excludedFactID string) ([]*fact.Fact, error) {
	wanted := make(map[[16]byte]bool, len(hashes))
	for _, h := range hashes {
		wanted[h] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []*fact.Fact
	for _, e := range s.indexes {
		if e.FactID == excludedFactID || seen[e.FactID] || !wanted[e.Hash] {
			continue
		}
		if f, ok := s.facts[e.FactID]; ok {
			out = append(out, f)
			seen[e.FactID] = true
		}
	}
	return out, nil
}

func (s *MemoryStore) ClearFactsCollection(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = make(map[string]*fact.Fact)
	return nil
}

func (s *MemoryStore) ClearFactIndexCollection(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)

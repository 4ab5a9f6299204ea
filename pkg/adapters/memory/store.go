package memory

import (
	"context"
	"sync"

	"github.com/aretw0/forkline/pkg/domain"
)

// Store implements ports.StateStore in memory.
// Safe for concurrent use.
type Store struct {
	state *domain.State
	saves int
	mu    sync.RWMutex
}

// NewStore creates a new, empty in-memory store.
func NewStore() *Store {
	return &Store{}
}

// NewStoreWith creates a store pre-seeded with state.
func NewStoreWith(state *domain.State) *Store {
	return &Store{state: state.Clone()}
}

// Save persists a deep copy of the aggregate, similar to serialization.
func (s *Store) Save(ctx context.Context, state *domain.State) error {
	copied := state.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = copied
	s.saves++
	return nil
}

// Load returns a copy so callers can't mutate the stored state by pointer.
func (s *Store) Load(ctx context.Context) (*domain.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return domain.NewState(), nil
	}
	return s.state.Clone(), nil
}

// Saves reports how many times Save was called.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

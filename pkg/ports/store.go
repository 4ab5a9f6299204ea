package ports

import (
	"context"

	"github.com/aretw0/forkline/pkg/domain"
)

// StateStore defines the interface for persisting the orchestrator state.
// Callers always read the whole aggregate, mutate a copy and save the whole
// aggregate back; stores never merge.
type StateStore interface {
	// Load returns the persisted state, or a fresh domain.NewState when none exists.
	// A persisted state that cannot be parsed yields an error wrapping domain.ErrStateCorrupt.
	Load(ctx context.Context) (*domain.State, error)

	// Save commits the full aggregate. Readers never observe a partial write.
	Save(ctx context.Context, state *domain.State) error
}

package middleware

import (
	"context"
	"fmt"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
)

type integrityMiddleware struct {
	next ports.StateStore
}

// NewIntegrityMiddleware refuses to persist a state that breaks a chain invariant.
// Loads pass through unchanged so an operator can still inspect a bad chain.
func NewIntegrityMiddleware() Middleware {
	return func(next ports.StateStore) ports.StateStore {
		return &integrityMiddleware{next: next}
	}
}

func (m *integrityMiddleware) Save(ctx context.Context, state *domain.State) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to save state: %w", err)
	}
	return m.next.Save(ctx, state)
}

func (m *integrityMiddleware) Load(ctx context.Context) (*domain.State, error) {
	return m.next.Load(ctx)
}

package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
)

type loggingMiddleware struct {
	next   ports.StateStore
	logger *slog.Logger
}

// NewLoggingMiddleware logs every load and save with its duration.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next ports.StateStore) ports.StateStore {
		return &loggingMiddleware{next: next, logger: logger}
	}
}

func (m *loggingMiddleware) Save(ctx context.Context, state *domain.State) error {
	start := time.Now()
	err := m.next.Save(ctx, state)
	m.log(ctx, "save", len(state.Nodes), start, err)
	return err
}

func (m *loggingMiddleware) Load(ctx context.Context) (*domain.State, error) {
	start := time.Now()
	state, err := m.next.Load(ctx)
	nodes := 0
	if state != nil {
		nodes = len(state.Nodes)
	}
	m.log(ctx, "load", nodes, start, err)
	return state, err
}

func (m *loggingMiddleware) log(ctx context.Context, op string, nodes int, start time.Time, err error) {
	if err != nil {
		m.logger.ErrorContext(ctx, "state "+op+" failed", "err", err)
		return
	}
	m.logger.DebugContext(ctx, "state "+op, "nodes", nodes, "duration", time.Since(start))
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/forkline/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultKey is the key holding the serialized aggregate.
const DefaultKey = "forkline:state"

// Store implements ports.StateStore using Redis.
// The aggregate is a single JSON value replaced with one SET, so readers
// never observe a partial write.
type Store struct {
	client *backend.Client
	key    string
}

type Option func(*Store)

// WithKey sets the key holding the aggregate.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		key:    DefaultKey,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) revisionKey() string {
	return s.key + ":rev"
}

// Save persists the state to Redis and bumps the revision counter.
func (s *Store) Save(ctx context.Context, state *domain.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	pipe := s.client.TxPipeline()

	// 1. Replace the aggregate (no expiration)
	pipe.Set(ctx, s.key, data, 0)

	// 2. Bump revision
	pipe.Incr(ctx, s.revisionKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save state to redis key %s: %w", s.key, err)
	}
	return nil
}

// Load retrieves the state from Redis. A missing key yields a fresh default state.
func (s *Store) Load(ctx context.Context) (*domain.State, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.NewState(), nil
		}
		return nil, fmt.Errorf("failed to get state from redis key %s: %w", s.key, err)
	}

	var state domain.State
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("%w: redis key %s: %v", domain.ErrStateCorrupt, s.key, err)
	}
	if state.Nodes == nil {
		state.Nodes = []domain.ForkNode{}
	}
	return &state, nil
}

// Revision returns how many times the aggregate has been saved.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	rev, err := s.client.Get(ctx, s.revisionKey()).Int64()
	if errors.Is(err, backend.Nil) {
		return 0, nil
	}
	return rev, err
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

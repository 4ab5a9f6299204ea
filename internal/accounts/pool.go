// Package accounts loads the identity pool and resolves display names.
package accounts

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/forkline/internal/adapters/file"
	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
	"github.com/aretw0/forkline/pkg/retry"
)

// tokenPrefixes are the recognised personal access token formats.
var tokenPrefixes = []string{"ghp_", "github_pat_"}

// LoadTokens reads one token per line, keeping only recognised formats.
func LoadTokens(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tokens file %s: %w", path, err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if validToken(line) {
			tokens = append(tokens, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens file %s: %w", path, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no valid tokens in %s", domain.ErrEmptyPool, path)
	}
	return tokens, nil
}

func validToken(s string) bool {
	for _, prefix := range tokenPrefixes {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return true
		}
	}
	return false
}

// Pool is the identity pool of one run. Identities keep their configured
// index even after validation filters some out.
type Pool struct {
	cachePath string
	logger    *slog.Logger
	sleep     retry.Sleeper
	pause     time.Duration

	mu         sync.RWMutex
	identities []domain.Identity
	size       int
	names      map[string]string // token -> login
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithPause sets the wait between consecutive validations.
func WithPause(d time.Duration, sleep retry.Sleeper) Option {
	return func(p *Pool) {
		p.pause = d
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// NewPool builds a pool from tokens in file order, filling names from the cache at cachePath.
func NewPool(tokens []string, cachePath string, opts ...Option) (*Pool, error) {
	if len(tokens) == 0 {
		return nil, domain.ErrEmptyPool
	}
	p := &Pool{
		cachePath: cachePath,
		logger:    logging.NewNop(),
		sleep:     time.Sleep,
		names:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.loadCache(); err != nil {
		return nil, err
	}

	p.identities = make([]domain.Identity, len(tokens))
	for i, token := range tokens {
		p.identities[i] = domain.Identity{Index: i, Name: p.names[token], Token: token}
	}
	p.size = len(tokens)
	return p, nil
}

// Load reads tokensPath and builds a pool.
func Load(tokensPath, cachePath string, opts ...Option) (*Pool, error) {
	tokens, err := LoadTokens(tokensPath)
	if err != nil {
		return nil, err
	}
	return NewPool(tokens, cachePath, opts...)
}

// Identities returns a copy of the usable identities.
func (p *Pool) Identities() []domain.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Identity(nil), p.identities...)
}

// Size is the configured pool size, stable across validation.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Get returns the identity with the given pool index.
func (p *Pool) Get(index int) (domain.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, identity := range p.identities {
		if identity.Index == index {
			return identity, nil
		}
	}
	return domain.Identity{}, fmt.Errorf("%w: index %d", domain.ErrIdentityNotFound, index)
}

// Resolve fills the display name of identity through remote when it is
// unknown, caching the result.
func (p *Pool) Resolve(ctx context.Context, identity domain.Identity, remote ports.Remote) (domain.Identity, error) {
	if identity.Name != "" {
		return identity, nil
	}
	login, err := remote.Username(ctx)
	if err != nil {
		return identity, fmt.Errorf("failed to resolve username for %s: %w", identity.Redacted(), err)
	}
	identity.Name = login

	p.mu.Lock()
	p.names[identity.Token] = login
	for i := range p.identities {
		if p.identities[i].Token == identity.Token {
			p.identities[i].Name = login
		}
	}
	names := p.snapshotNames()
	p.mu.Unlock()

	if err := p.saveCache(names); err != nil {
		p.logger.Warn("failed to persist name cache", "err", err)
	}
	return identity, nil
}

// Validate resolves every identity through its bound proxy and drops those
// whose credential is rejected. It fails when no identity survives.
func (p *Pool) Validate(ctx context.Context, connector ports.Connector, lookup ports.BindingLookup) error {
	if lookup == nil {
		lookup = ports.NoBindings
	}
	current := p.Identities()
	valid := make([]domain.Identity, 0, len(current))
	names := make(map[string]string, len(current))

	for i, identity := range current {
		if i > 0 {
			p.sleep(p.pause)
		}
		remote, err := connector.Connect(identity, lookup(identity.Token))
		if err != nil {
			p.logger.Warn("identity rejected", "identity", identity.Redacted(), "err", err)
			continue
		}
		login, err := remote.Username(ctx)
		if err != nil {
			p.logger.Warn("identity rejected", "identity", identity.Redacted(), "err", err)
			continue
		}
		identity.Name = login
		names[identity.Token] = login
		valid = append(valid, identity)
		p.logger.Info("identity valid", "index", identity.Index, "login", login)
	}

	if len(valid) == 0 {
		return fmt.Errorf("%w: none of %d identities validated", domain.ErrEmptyPool, len(current))
	}

	p.mu.Lock()
	p.identities = valid
	p.names = names
	p.mu.Unlock()

	p.logger.Info("validation complete", "valid", len(valid), "total", len(current))
	return p.saveCache(names)
}

func (p *Pool) snapshotNames() map[string]string {
	out := make(map[string]string, len(p.names))
	for k, v := range p.names {
		out[k] = v
	}
	return out
}

func (p *Pool) loadCache() error {
	if p.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(p.cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read name cache %s: %w", p.cachePath, err)
	}
	if err := json.Unmarshal(data, &p.names); err != nil {
		return fmt.Errorf("failed to parse name cache %s: %w", p.cachePath, err)
	}
	return nil
}

func (p *Pool) saveCache(names map[string]string) error {
	if p.cachePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal name cache: %w", err)
	}
	if err := file.WriteAtomic(p.cachePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write name cache: %w", err)
	}
	return nil
}

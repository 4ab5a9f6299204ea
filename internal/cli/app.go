// Package cli wires configured components into an App for one command invocation.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/forkline/internal/accounts"
	"github.com/aretw0/forkline/internal/adapters/file"
	"github.com/aretw0/forkline/internal/adapters/github"
	redisstore "github.com/aretw0/forkline/internal/adapters/redis"
	"github.com/aretw0/forkline/internal/alert"
	"github.com/aretw0/forkline/internal/config"
	"github.com/aretw0/forkline/internal/fork"
	"github.com/aretw0/forkline/internal/lease"
	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/internal/metrics"
	"github.com/aretw0/forkline/internal/proxy"
	"github.com/aretw0/forkline/internal/quota"
	"github.com/aretw0/forkline/internal/remote"
	"github.com/aretw0/forkline/internal/rotation"
	"github.com/aretw0/forkline/internal/secrets"
	redislock "github.com/aretw0/forkline/pkg/adapters/redis"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/persistence/middleware"
	"github.com/aretw0/forkline/pkg/ports"
	"github.com/aretw0/forkline/pkg/retry"
	backend "github.com/redis/go-redis/v9"
)

// ErrNoSource is returned when a fork is requested before the source is registered.
var ErrNoSource = errors.New("no source repository registered")

// Options configures NewApp.
type Options struct {
	Config config.Config
	Logger *slog.Logger

	// Connector replaces the GitHub connector.
	Connector ports.Connector

	// Store replaces the configured state backend.
	Store ports.StateStore

	// Sleeper replaces time.Sleep for every wait.
	Sleeper retry.Sleeper
}

// App is the fully wired controller.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Store     ports.StateStore
	Pool      *accounts.Pool
	Proxies   *proxy.Manager
	Connector ports.Connector
	Notifier  ports.Notifier
	Monitor   *quota.Monitor
	Forks     *fork.Manager
	Rotation  *rotation.Controller
	Lease     *lease.Lease

	closers []func() error
}

// NewApp loads the identity pool and proxy cache and wires every component.
func NewApp(opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	sleep := opts.Sleeper
	if sleep == nil {
		sleep = time.Sleep
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics.New(),
		Notifier: alert.FromConfig(cfg.Alerts),
	}

	// 1. Retry executor
	executor := retry.NewExecutor(
		retry.WithLogger(logger),
		retry.WithSleeper(sleep),
		retry.WithRetryHook(func(string, int, error) { app.Metrics.Retried() }),
	)

	// 2. Identity pool & proxies
	pool, err := accounts.Load(cfg.TokensPath(), cfg.NameCachePath(),
		accounts.WithLogger(logger),
		accounts.WithPause(cfg.Quota.ProbePause, sleep),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load identities from %s: %w", cfg.TokensPath(), err)
	}
	app.Pool = pool

	app.Proxies = proxy.NewManager(cfg.ProxyCachePath(),
		proxy.WithLogger(logger),
		proxy.WithProbe(cfg.Proxy.ProbeURL, cfg.Proxy.ProbeTimeout),
	)
	if err := app.Proxies.LoadCache(); err != nil {
		return nil, err
	}

	// 3. Remote
	connector := opts.Connector
	if connector == nil {
		connector = github.NewConnector(cfg.GitHub.BaseURL, cfg.GitHub.Timeout, github.WithLogger(logger))
	}
	app.Connector = remote.NewConnector(connector, executor, cfg.Retry)

	// 4. State & lease
	store := opts.Store
	if store == nil {
		configured, closeStore, err := NewStore(cfg)
		if err != nil {
			return nil, err
		}
		store = configured
		app.closers = append(app.closers, closeStore)
	}
	app.Store = middleware.Chain(store,
		middleware.NewLoggingMiddleware(logger),
		middleware.NewIntegrityMiddleware(),
	)

	var locker ports.DistributedLocker
	if cfg.Lease.RedisAddr != "" {
		client := backend.NewClient(&backend.Options{Addr: cfg.Lease.RedisAddr})
		app.closers = append(app.closers, client.Close)
		locker = redislock.NewLocker(client, "forkline:", redislock.WithRenewInterval(cfg.Lease.RenewInterval))
	}
	app.Lease = lease.New(locker, cfg.Lease.Key, cfg.Lease.TTL, cfg.Lease.Wait, logger)

	// 5. Core
	app.Monitor = quota.NewMonitor(app.Connector, quota.FromConfig(cfg.Quota),
		quota.WithLogger(logger),
		quota.WithMetrics(app.Metrics),
		quota.WithNotifier(app.Notifier),
		quota.WithResolver(pool),
		quota.WithPause(cfg.Quota.ProbePause, sleep),
	)
	app.Forks = fork.NewManager(app.Store, app.Connector, pool, executor, fork.SettingsFromConfig(cfg.Fork),
		fork.WithLogger(logger),
		fork.WithMetrics(app.Metrics),
		fork.WithNotifier(app.Notifier),
		fork.WithBindings(app.Lookup),
	)
	app.Rotation = rotation.NewController(app.Store, app.Monitor, app.Forks, pool,
		rotation.WithLogger(logger),
		rotation.WithMetrics(app.Metrics),
		rotation.WithNotifier(app.Notifier),
		rotation.WithBindings(app.Lookup),
		rotation.WithLease(app.Lease),
	)

	return app, nil
}

// NewStore opens the configured state backend.
func NewStore(cfg config.Config) (ports.StateStore, func() error, error) {
	switch cfg.State.Backend {
	case "", "file":
		return file.New(cfg.StatePath()), func() error { return nil }, nil
	case "redis":
		store := redisstore.New(cfg.State.RedisAddr, "", 0, redisstore.WithKey(cfg.State.RedisKey))
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Lookup returns the proxy binding of token.
func (a *App) Lookup(token string) *domain.ProxyBinding {
	return a.Proxies.Lookup(token)
}

// Rotate runs one rotation check.
func (a *App) Rotate(ctx context.Context) (rotation.Result, error) {
	return a.Rotation.Run(ctx)
}

// QuotaAll probes every identity of the pool.
func (a *App) QuotaAll(ctx context.Context) []domain.QuotaReport {
	return a.Monitor.CheckAll(ctx, a.Pool.Identities(), a.Lookup)
}

// RegisterSource records repo as the root of the chain.
func (a *App) RegisterSource(ctx context.Context, repo string) error {
	return a.Lease.Do(ctx, func(ctx context.Context) error {
		state, err := a.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load state: %w", err)
		}
		_, err = a.Forks.RegisterSource(ctx, state, repo, 0)
		return err
	})
}

// CreateNext forks the newest chain repo as the current identity, sets the
// configured secrets on it and, when activate is set, enables its workflow.
func (a *App) CreateNext(ctx context.Context, activate bool) (string, error) {
	values, err := secrets.Load(a.Config.Secrets, a.Config.Resolve)
	if err != nil {
		return "", err
	}

	var repo string
	err = a.Lease.Do(ctx, func(ctx context.Context) error {
		state, err := a.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load state: %w", err)
		}
		parent, ok := fork.NextParent(state)
		if !ok {
			return ErrNoSource
		}
		identity, err := a.Pool.Get(state.ActiveIndex)
		if err != nil {
			return fmt.Errorf("failed to resolve current identity: %w", err)
		}

		next, created, err := a.Forks.Create(ctx, state, identity, parent, a.Lookup(identity.Token))
		if err != nil {
			return err
		}
		repo = created
		if err := a.Forks.SetSecrets(ctx, next, values); err != nil {
			return err
		}
		if activate {
			return a.Forks.Activate(ctx, next, created)
		}
		return nil
	})
	return repo, err
}

// SetSecrets pushes the configured secrets to every Active fork.
func (a *App) SetSecrets(ctx context.Context) error {
	if len(a.Config.Secrets) == 0 {
		return errors.New("no secrets configured")
	}
	values, err := secrets.Load(a.Config.Secrets, a.Config.Resolve)
	if err != nil {
		return err
	}
	return a.Lease.Do(ctx, func(ctx context.Context) error {
		state, err := a.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load state: %w", err)
		}
		return a.Forks.SetSecrets(ctx, state, values)
	})
}

// RunActive dispatches the workflow of the Active fork and, when wait is
// set, waits for its conclusion.
func (a *App) RunActive(ctx context.Context, wait bool) (int64, string, error) {
	state, err := a.Store.Load(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("failed to load state: %w", err)
	}
	idx := state.Active()
	if idx < 0 {
		return 0, "", fmt.Errorf("%w: no active fork", domain.ErrNodeNotFound)
	}
	repo := state.Nodes[idx].Repo

	runID, err := a.Forks.Trigger(ctx, state, repo)
	if err != nil || !wait {
		return runID, "", err
	}
	conclusion, err := a.Forks.AwaitRun(ctx, state, repo, runID)
	return runID, conclusion, err
}

// Cleanup tears down every Exhausted fork.
func (a *App) Cleanup(ctx context.Context) error {
	return a.Lease.Do(ctx, func(ctx context.Context) error {
		state, err := a.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load state: %w", err)
		}
		_, err = a.Forks.Cleanup(ctx, state)
		return err
	})
}

// Teardown deletes the fork at chain index.
func (a *App) Teardown(ctx context.Context, index int) error {
	return a.Lease.Do(ctx, func(ctx context.Context) error {
		state, err := a.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load state: %w", err)
		}
		_, err = a.Forks.Teardown(ctx, state, index)
		return err
	})
}

// ValidateAccounts drops identities whose credential is rejected.
func (a *App) ValidateAccounts(ctx context.Context) error {
	return a.Pool.Validate(ctx, a.Connector, a.Lookup)
}

// ImportProxies binds the raw proxy list at path to the pool, in order.
func (a *App) ImportProxies(path string) error {
	if path == "" {
		path = a.Config.ProxiesPath()
	}
	return a.Proxies.BindFile(a.Pool.Identities(), path)
}

// TestProxies returns the redacted tokens whose proxy is unreachable.
func (a *App) TestProxies(ctx context.Context) []string {
	return a.Proxies.Validate(ctx, a.Pool.Identities())
}

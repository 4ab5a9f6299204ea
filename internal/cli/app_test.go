package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/forkline/internal/cli"
	"github.com/aretw0/forkline/internal/config"
	"github.com/aretw0/forkline/pkg/adapters/memory"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T) (*cli.App, *memory.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Dir = t.TempDir()
	require.NoError(t, os.WriteFile(cfg.TokensPath(), []byte("ghp_alpha\nghp_beta\n"), 0o600))

	svc := memory.NewService()
	svc.AddIdentity("ghp_alpha", "alpha")
	svc.AddIdentity("ghp_beta", "beta")
	svc.AddRepo("origin/project")
	svc.AddTrigger("origin/project", ".github/workflows/nexus.yml", true)

	app, err := cli.NewApp(cli.Options{
		Config:    cfg,
		Connector: svc,
		Sleeper:   func(time.Duration) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, svc
}

func exhausted() domain.Usage {
	return domain.Usage{Items: []domain.UsageItem{{Product: "actions", UnitType: "Minutes", Quantity: 3600}}}
}

func TestApp_FullRotationCycle(t *testing.T) {
	ctx := context.Background()
	app, svc := newApp(t)

	_, err := app.CreateNext(ctx, true)
	require.ErrorIs(t, err, cli.ErrNoSource)

	require.NoError(t, app.RegisterSource(ctx, "origin/project"))

	// 1. First fork, activated
	repo, err := app.CreateNext(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "alpha/project", repo)
	assert.True(t, svc.TriggerEnabled("alpha/project"))

	// 2. Quota still fine
	result, err := app.Rotate(ctx)
	require.NoError(t, err)
	assert.False(t, result.Rotated)

	// 3. Exhausted: rotate to identity 1
	svc.SetUsage("alpha", exhausted())
	result, err = app.Rotate(ctx)
	require.NoError(t, err)
	assert.True(t, result.Rotated)
	assert.Equal(t, 1, result.To)
	assert.False(t, svc.TriggerEnabled("alpha/project"))

	// 4. Next fork derives from the exhausted one
	repo, err = app.CreateNext(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "beta/project", repo)

	// 5. Cleanup removes the exhausted fork only
	require.NoError(t, app.Cleanup(ctx))
	assert.False(t, svc.Exists("alpha/project"))
	assert.True(t, svc.Exists("beta/project"))

	state, err := app.Store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, state.Nodes, 3)
	assert.Equal(t, domain.StatusSource, state.Nodes[0].Status)
	assert.Equal(t, domain.StatusDisabled, state.Nodes[1].Status)
	assert.Equal(t, domain.StatusActive, state.Nodes[2].Status)
	assert.Equal(t, 1, state.ActiveIndex)
	assert.Equal(t, 2, state.TotalIdentities)

	_, err = os.Stat(filepath.Join(app.Config.Paths.Dir, "cache", "active.json"))
	assert.NoError(t, err, "state is persisted to the configured file")
}

func TestApp_CreateNextAfterWrap(t *testing.T) {
	ctx := context.Background()
	app, svc := newApp(t)
	require.NoError(t, app.RegisterSource(ctx, "origin/project"))

	repo, err := app.CreateNext(ctx, true)
	require.NoError(t, err)
	require.Equal(t, "alpha/project", repo)

	svc.SetUsage("alpha", exhausted())
	_, err = app.Rotate(ctx)
	require.NoError(t, err)

	repo, err = app.CreateNext(ctx, true)
	require.NoError(t, err)
	require.Equal(t, "beta/project", repo)

	// The ring wraps back to identity 0, whose fork is still Exhausted.
	svc.SetUsage("beta", exhausted())
	result, err := app.Rotate(ctx)
	require.NoError(t, err)
	require.True(t, result.Rotated)
	require.Equal(t, 0, result.To)

	_, err = app.CreateNext(ctx, true)
	require.ErrorIs(t, err, domain.ErrForkExhausted)
	assert.False(t, svc.TriggerEnabled("alpha/project"), "exhausted fork stays disabled")

	state, err := app.Store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, state.Active())
	assert.Equal(t, domain.StatusExhausted, state.Nodes[1].Status)

	// Once cleaned up, the identity forks the source again.
	require.NoError(t, app.Cleanup(ctx))
	repo, err = app.CreateNext(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "alpha/project", repo)
	assert.True(t, svc.TriggerEnabled("alpha/project"))

	state, err = app.Store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, state.WithStatus(domain.StatusActive), 1)
	last := state.Nodes[len(state.Nodes)-1]
	require.NotNil(t, last.Parent)
	assert.Equal(t, "origin/project", *last.Parent)
}

func TestApp_RunActive(t *testing.T) {
	ctx := context.Background()
	app, svc := newApp(t)
	require.NoError(t, app.RegisterSource(ctx, "origin/project"))
	_, err := app.CreateNext(ctx, true)
	require.NoError(t, err)

	runID, conclusion, err := app.RunActive(ctx, false)
	require.NoError(t, err)
	assert.NotZero(t, runID)
	assert.Empty(t, conclusion)
	assert.Len(t, svc.Runs("alpha/project"), 1)
}

func TestApp_QuotaAll(t *testing.T) {
	app, svc := newApp(t)
	svc.SetUsage("alpha", exhausted())

	reports := app.QuotaAll(context.Background())
	require.Len(t, reports, 2)
	assert.Equal(t, "alpha", reports[0].Identity)
	assert.True(t, reports[0].IsExhausted)
	assert.Equal(t, "beta", reports[1].Identity)
	assert.False(t, reports[1].IsWarning)
}

func TestApp_ValidateAccounts(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Dir = t.TempDir()
	require.NoError(t, os.WriteFile(cfg.TokensPath(), []byte("ghp_alpha\nghp_revoked\n"), 0o600))

	svc := memory.NewService()
	svc.AddIdentity("ghp_alpha", "alpha")

	app, err := cli.NewApp(cli.Options{Config: cfg, Connector: svc, Sleeper: func(time.Duration) {}})
	require.NoError(t, err)

	require.NoError(t, app.ValidateAccounts(context.Background()))
	assert.Len(t, app.Pool.Identities(), 1)
	assert.Equal(t, 2, app.Pool.Size())
}

func TestApp_ImportProxies(t *testing.T) {
	app, _ := newApp(t)
	path := filepath.Join(app.Config.Paths.Dir, "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte("http://u:p@10.0.0.1:8080\nhttp://u:p@10.0.0.2:8080\n"), 0o600))

	require.NoError(t, app.ImportProxies(""))
	binding := app.Lookup("ghp_beta")
	require.NotNil(t, binding)
	assert.Equal(t, "10.0.0.2", binding.Host)
}

func TestNewApp_MissingTokens(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Dir = t.TempDir()

	_, err := cli.NewApp(cli.Options{Config: cfg, Connector: memory.NewService()})
	assert.Error(t, err)
}

func TestApp_CreateNextSetsSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Dir = t.TempDir()
	cfg.Secrets = []config.Secret{{Name: "NEXUS_WALLETS", File: "wallets.txt"}}
	require.NoError(t, os.WriteFile(cfg.TokensPath(), []byte("ghp_alpha\nghp_beta\n"), 0o600))
	require.NoError(t, os.WriteFile(cfg.Resolve("wallets.txt"), []byte("0xa\n0xb\n"), 0o600))

	svc := memory.NewService()
	svc.AddIdentity("ghp_alpha", "alpha")
	svc.AddIdentity("ghp_beta", "beta")
	svc.AddRepo("origin/project")
	svc.AddTrigger("origin/project", ".github/workflows/nexus.yml", true)

	app, err := cli.NewApp(cli.Options{Config: cfg, Connector: svc, Sleeper: func(time.Duration) {}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	ctx := context.Background()

	require.NoError(t, app.RegisterSource(ctx, "origin/project"))
	repo, err := app.CreateNext(ctx, true)
	require.NoError(t, err)

	sealed, ok := svc.Secret(repo, "NEXUS_WALLETS")
	require.True(t, ok)
	assert.Equal(t, memory.PublicKeyOf(repo).KeyID, sealed.KeyID)
	assert.True(t, svc.TriggerEnabled(repo))

	// Rotating secrets later re-seals against the same fork.
	require.NoError(t, os.WriteFile(cfg.Resolve("wallets.txt"), []byte("0xc\n"), 0o600))
	require.NoError(t, app.SetSecrets(ctx))
	again, ok := svc.Secret(repo, "NEXUS_WALLETS")
	require.True(t, ok)
	assert.NotEqual(t, sealed.EncryptedValue, again.EncryptedValue)
}

func TestApp_SetSecretsRequiresConfig(t *testing.T) {
	app, _ := newApp(t)
	assert.Error(t, app.SetSecrets(context.Background()))
}

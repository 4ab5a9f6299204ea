// Package fork creates, activates and tears down the fork chain.
package fork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aretw0/forkline/internal/alert"
	"github.com/aretw0/forkline/internal/config"
	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/internal/metrics"
	"github.com/aretw0/forkline/internal/secrets"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
	"github.com/aretw0/forkline/pkg/retry"
)

// RunTimeout is the AwaitRun result when the run never completed within the bound.
const RunTimeout = "timeout"

var (
	errNotReady   = errors.New("fork not ready")
	errRunPending = errors.New("run not completed")
	errNoNewRun   = errors.New("dispatched run not visible yet")
	errNoSecret   = errors.New("secret not visible yet")
)

// Settings bound every wait of the lifecycle.
type Settings struct {
	ReadyAttempts int
	ReadyInterval time.Duration
	SettleDelay   time.Duration
	CleanupPause  time.Duration
	WorkflowHint  string
	WorkflowRef   string
	RunAttempts   int
	RunInterval   time.Duration

	SecretVerifyAttempts int
	SecretVerifyInterval time.Duration
}

// SettingsFromConfig converts the fork configuration section.
func SettingsFromConfig(cfg config.Fork) Settings {
	return Settings{
		ReadyAttempts: cfg.ReadyAttempts,
		ReadyInterval: cfg.ReadyInterval,
		SettleDelay:   cfg.SettleDelay,
		CleanupPause:  cfg.CleanupPause,
		WorkflowHint:  cfg.WorkflowHint,
		WorkflowRef:   cfg.WorkflowRef,
		RunAttempts:   cfg.RunAttempts,
		RunInterval:   cfg.RunInterval,

		SecretVerifyAttempts: cfg.SecretVerifyAttempts,
		SecretVerifyInterval: cfg.SecretVerifyInterval,
	}
}

// Manager drives node lifecycle transitions and persists each one.
type Manager struct {
	store     ports.StateStore
	connector ports.Connector
	directory ports.IdentityDirectory
	bindings  ports.BindingLookup
	sealer    ports.Sealer
	executor  *retry.Executor
	settings  Settings

	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier ports.Notifier
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records node transitions.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithNotifier alerts on cleanup failures.
func WithNotifier(n ports.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithBindings sets the proxy lookup used when connecting as a node owner.
func WithBindings(lookup ports.BindingLookup) Option {
	return func(m *Manager) {
		m.bindings = lookup
	}
}

// WithSealer replaces the NaCl box sealer used for secrets.
func WithSealer(sealer ports.Sealer) Option {
	return func(m *Manager) {
		m.sealer = sealer
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager.
func NewManager(store ports.StateStore, connector ports.Connector, directory ports.IdentityDirectory, executor *retry.Executor, settings Settings, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		connector: connector,
		directory: directory,
		bindings:  ports.NoBindings,
		sealer:    secrets.BoxSealer{},
		executor:  executor,
		settings:  settings,
		logger:    logging.NewNop(),
		notifier:  ports.NopNotifier{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.executor == nil {
		m.executor = retry.NewExecutor(retry.WithLogger(m.logger))
	}
	return m
}

// ExpectedRepo is the deterministic identifier of owner's fork of parent.
func ExpectedRepo(owner, parent string) string {
	return owner + "/" + path.Base(parent)
}

// inChain returns the index of a live (not Disabled) node for repo, or -1.
func inChain(state *domain.State, repo string) int {
	for i, n := range state.Nodes {
		if n.Repo == repo && n.Status != domain.StatusDisabled {
			return i
		}
	}
	return -1
}

// Create forks parent as identity and appends an Active node.
// It is idempotent: a fork that already exists and is tracked as Active is
// returned unchanged. A tracked Exhausted fork must be cleaned up first.
func (m *Manager) Create(ctx context.Context, state *domain.State, identity domain.Identity, parent string, binding *domain.ProxyBinding) (*domain.State, string, error) {
	remote, err := m.connector.Connect(identity, binding)
	if err != nil {
		return state, "", fmt.Errorf("failed to connect as %s: %w", identity.Redacted(), err)
	}

	// 1. Deterministic identifier
	if identity.Name == "" {
		identity.Name, err = remote.Username(ctx)
		if err != nil {
			return state, "", fmt.Errorf("failed to resolve username for %s: %w", identity.Redacted(), err)
		}
	}
	repo := ExpectedRepo(identity.Name, parent)

	if active := state.Active(); active >= 0 && state.Nodes[active].Repo != repo {
		return state, "", fmt.Errorf("%w: %s (node %d)", domain.ErrActiveExists, state.Nodes[active].Repo, active)
	}
	if idx := inChain(state, repo); idx >= 0 && state.Nodes[idx].Status != domain.StatusActive {
		return state, "", fmt.Errorf("%w: %s (node %d), run cleanup before forking it again", domain.ErrForkExhausted, repo, idx)
	}

	// 2. Idempotent re-entry
	exists, err := remote.RepoExists(ctx, repo)
	if err != nil {
		return state, "", fmt.Errorf("failed to check fork %s: %w", repo, err)
	}
	if exists {
		if idx := inChain(state, repo); idx >= 0 {
			m.logger.Info("fork already tracked", "repo", repo, "node", idx, "status", state.Nodes[idx].Status)
			return state, repo, nil
		}
		m.logger.Info("fork exists remotely, recording it", "repo", repo)
	} else {
		// 3. Create and wait for readiness
		created, err := remote.CreateFork(ctx, parent)
		if err != nil {
			return state, "", fmt.Errorf("failed to fork %s as %s: %w", parent, identity.Redacted(), err)
		}
		if created != repo {
			m.logger.Warn("fork created under unexpected name", "expected", repo, "created", created)
			repo = created
		}
		m.logger.Info("fork requested, waiting for readiness", "repo", repo)
		if err := m.awaitReady(ctx, remote, repo); err != nil {
			return state, "", err
		}
	}

	// 4. Append and persist
	now := m.now().UTC()
	p := parent
	next := state.Clone()
	next.Nodes = append(next.Nodes, domain.ForkNode{
		IdentityIndex: identity.Index,
		Owner:         identity.Name,
		Repo:          repo,
		Parent:        &p,
		Status:        domain.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	next.ActiveIndex = identity.Index
	if m.directory != nil && next.TotalIdentities == 0 {
		next.TotalIdentities = m.directory.Size()
	}
	if err := m.store.Save(ctx, next); err != nil {
		return state, "", fmt.Errorf("failed to save state after creating %s: %w", repo, err)
	}

	m.metrics.SetActive(identity.Index)
	m.logger.Info("fork active", "repo", repo, "identity", identity.Index, "node", len(next.Nodes)-1)
	return next, repo, nil
}

func (m *Manager) awaitReady(ctx context.Context, remote ports.Remote, repo string) error {
	cfg := retry.Fixed(m.settings.ReadyAttempts, m.settings.ReadyInterval)
	err := retry.Run(ctx, m.executor, cfg, "await fork "+repo, func(ctx context.Context) error {
		ok, err := remote.RepoExists(ctx, repo)
		if err != nil {
			return err
		}
		if !ok {
			return errNotReady
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrForkTimeout, repo, err)
	}
	return nil
}

// RegisterSource appends the root Source node. It is a no-op when a Source exists.
func (m *Manager) RegisterSource(ctx context.Context, state *domain.State, repo string, identityIndex int) (*domain.State, error) {
	if idx := state.Source(); idx >= 0 {
		if state.Nodes[idx].Repo != repo {
			return state, fmt.Errorf("%w: source is already %s", domain.ErrSourceImmutable, state.Nodes[idx].Repo)
		}
		return state, nil
	}

	now := m.now().UTC()
	next := state.Clone()
	next.Nodes = append(next.Nodes, domain.ForkNode{
		IdentityIndex: identityIndex,
		Repo:          repo,
		Status:        domain.StatusSource,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if m.directory != nil && next.TotalIdentities == 0 {
		next.TotalIdentities = m.directory.Size()
	}
	if err := m.store.Save(ctx, next); err != nil {
		return state, fmt.Errorf("failed to save state after registering source %s: %w", repo, err)
	}
	m.logger.Info("source registered", "repo", repo)
	return next, nil
}

// NextParent is the newest Active or Exhausted repo, else the Source repo.
func NextParent(state *domain.State) (string, bool) {
	for i := len(state.Nodes) - 1; i >= 0; i-- {
		n := state.Nodes[i]
		if n.Status == domain.StatusActive || n.Status == domain.StatusExhausted {
			return n.Repo, true
		}
	}
	if idx := state.Source(); idx >= 0 {
		return state.Nodes[idx].Repo, true
	}
	return "", false
}

// DisableAutomation disables the workflow matching the configured hint.
// A repo without that workflow is a warning, not an error.
func (m *Manager) DisableAutomation(ctx context.Context, remote ports.Remote, repo string) error {
	id, ok, err := remote.AutomationTriggerID(ctx, repo, m.settings.WorkflowHint)
	if err != nil {
		return fmt.Errorf("failed to look up workflow %s in %s: %w", m.settings.WorkflowHint, repo, err)
	}
	if !ok {
		m.logger.Warn("workflow not found, skipping disable", "repo", repo, "workflow", m.settings.WorkflowHint)
		return nil
	}
	if err := remote.DisableAutomation(ctx, repo, id); err != nil {
		return fmt.Errorf("failed to disable workflow %d in %s: %w", id, repo, err)
	}
	m.logger.Info("workflow disabled", "repo", repo, "workflow_id", id)
	return nil
}

// Teardown deletes the node's workspace and marks it Disabled.
// The node is only transitioned after the deletion succeeded.
func (m *Manager) Teardown(ctx context.Context, state *domain.State, index int) (*domain.State, error) {
	if index < 0 || index >= len(state.Nodes) {
		return state, fmt.Errorf("%w: index %d of %d", domain.ErrNodeNotFound, index, len(state.Nodes))
	}
	node := state.Nodes[index]
	switch node.Status {
	case domain.StatusSource:
		return state, fmt.Errorf("%w: %s (node %d)", domain.ErrSourceImmutable, node.Repo, index)
	case domain.StatusDisabled:
		return state, nil
	}

	remote, err := m.RemoteFor(node.IdentityIndex)
	if err != nil {
		return state, fmt.Errorf("failed to tear down %s (node %d): %w", node.Repo, index, err)
	}

	// Best-effort: teardown proceeds even when the workflow cannot be disabled.
	if err := m.DisableAutomation(ctx, remote, node.Repo); err != nil {
		m.logger.Warn("teardown could not disable workflow", "repo", node.Repo, "err", err)
	}

	m.executor.Sleep(m.settings.SettleDelay)

	if err := remote.DeleteRepo(ctx, node.Repo); err != nil {
		return state, fmt.Errorf("failed to delete %s (node %d): %w", node.Repo, index, err)
	}

	next := state.Clone()
	next.Nodes[index].Status = domain.StatusDisabled
	next.Nodes[index].UpdatedAt = m.now().UTC()
	if err := m.store.Save(ctx, next); err != nil {
		return state, fmt.Errorf("failed to save state after deleting %s: %w", node.Repo, err)
	}

	m.metrics.Transition(node.Status, domain.StatusDisabled)
	m.logger.Info("fork deleted", "repo", node.Repo, "node", index)
	return next, nil
}

// Cleanup tears down every Exhausted node, continuing past failures.
// It returns the latest state and the joined failures.
func (m *Manager) Cleanup(ctx context.Context, state *domain.State) (*domain.State, error) {
	targets := state.WithStatus(domain.StatusExhausted)
	if len(targets) == 0 {
		m.logger.Info("no exhausted forks to clean up")
		return state, nil
	}
	m.logger.Info("cleaning up exhausted forks", "count", len(targets))

	var errs []error
	for i, index := range targets {
		if i > 0 {
			m.executor.Sleep(m.settings.CleanupPause)
		}
		next, err := m.Teardown(ctx, state, index)
		if err != nil {
			m.logger.Warn("cleanup failed", "repo", state.Nodes[index].Repo, "node", index, "err", err)
			errs = append(errs, err)
			continue
		}
		state = next
	}

	if err := errors.Join(errs...); err != nil {
		alert.Send(ctx, m.notifier, m.logger, fmt.Sprintf("Cleanup failed for %d of %d forks: %v", len(errs), len(targets), err))
		return state, err
	}
	return state, nil
}

// RemoteFor connects as the identity at index through its bound proxy.
func (m *Manager) RemoteFor(index int) (ports.Remote, error) {
	if m.directory == nil {
		return nil, fmt.Errorf("%w: index %d", domain.ErrIdentityNotFound, index)
	}
	identity, err := m.directory.Get(index)
	if err != nil {
		return nil, err
	}
	return m.connector.Connect(identity, m.bindings(identity.Token))
}

func (m *Manager) remoteForRepo(state *domain.State, repo string) (ports.Remote, error) {
	idx := inChain(state, repo)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, repo)
	}
	return m.RemoteFor(state.Nodes[idx].IdentityIndex)
}

// Activate enables the workflow on a fork; forks start with workflows disabled.
// Only an Active node may be activated.
func (m *Manager) Activate(ctx context.Context, state *domain.State, repo string) error {
	idx := inChain(state, repo)
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrNodeNotFound, repo)
	}
	if status := state.Nodes[idx].Status; status != domain.StatusActive {
		return fmt.Errorf("%w: %s (node %d) is %s", domain.ErrNotActive, repo, idx, status)
	}
	remote, err := m.RemoteFor(state.Nodes[idx].IdentityIndex)
	if err != nil {
		return err
	}
	id, ok, err := remote.AutomationTriggerID(ctx, repo, m.settings.WorkflowHint)
	if err != nil {
		return fmt.Errorf("failed to look up workflow %s in %s: %w", m.settings.WorkflowHint, repo, err)
	}
	if !ok {
		return fmt.Errorf("workflow %s not found in %s", m.settings.WorkflowHint, repo)
	}
	if err := remote.EnableAutomation(ctx, repo, id); err != nil {
		return fmt.Errorf("failed to enable workflow %d in %s: %w", id, repo, err)
	}
	m.logger.Info("workflow enabled", "repo", repo, "workflow_id", id)
	return nil
}

// Trigger dispatches the workflow on the configured ref and returns the new run id.
func (m *Manager) Trigger(ctx context.Context, state *domain.State, repo string) (int64, error) {
	remote, err := m.remoteForRepo(state, repo)
	if err != nil {
		return 0, err
	}
	hint := m.settings.WorkflowHint

	before, hadRun, err := remote.LatestRun(ctx, repo, hint)
	if err != nil {
		return 0, fmt.Errorf("failed to list runs of %s in %s: %w", hint, repo, err)
	}
	if err := remote.DispatchAutomation(ctx, repo, hint, m.settings.WorkflowRef); err != nil {
		return 0, fmt.Errorf("failed to dispatch %s in %s: %w", hint, repo, err)
	}
	m.logger.Info("workflow dispatched", "repo", repo, "workflow", hint, "ref", m.settings.WorkflowRef)

	cfg := retry.Fixed(m.settings.ReadyAttempts, m.settings.ReadyInterval)
	run, err := retry.Do(ctx, m.executor, cfg, "await run of "+repo, func(ctx context.Context) (ports.RunStatus, error) {
		run, ok, err := remote.LatestRun(ctx, repo, hint)
		if err != nil {
			return run, err
		}
		if !ok || (hadRun && run.ID == before.ID) {
			return run, errNoNewRun
		}
		return run, nil
	})
	if err != nil {
		return 0, fmt.Errorf("dispatched run of %s in %s never appeared: %w", hint, repo, err)
	}
	return run.ID, nil
}

// AwaitRun polls a run until it completes and returns its conclusion,
// or RunTimeout when the attempt bound is reached.
func (m *Manager) AwaitRun(ctx context.Context, state *domain.State, repo string, runID int64) (string, error) {
	remote, err := m.remoteForRepo(state, repo)
	if err != nil {
		return "", err
	}

	cfg := retry.Fixed(m.settings.RunAttempts, m.settings.RunInterval)
	run, err := retry.Do(ctx, m.executor, cfg, fmt.Sprintf("await run %d of %s", runID, repo), func(ctx context.Context) (ports.RunStatus, error) {
		run, err := remote.Run(ctx, repo, runID)
		if err != nil {
			return run, err
		}
		if !run.Completed() {
			m.logger.Debug("run in progress", "repo", repo, "run", runID, "status", run.Status)
			return run, errRunPending
		}
		return run, nil
	})
	if errors.Is(err, errRunPending) {
		m.logger.Warn("run did not complete in time", "repo", repo, "run", runID)
		return RunTimeout, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to await run %d of %s: %w", runID, repo, err)
	}
	return run.Conclusion, nil
}

// SetSecrets seals and sets every secret on each Active fork, connecting
// as the fork's owner. Each secret is read back afterwards; one that never
// becomes visible is logged, not failed. Failures of one fork do not stop
// the others and are joined in the result.
func (m *Manager) SetSecrets(ctx context.Context, state *domain.State, values []domain.Secret) error {
	if len(values) == 0 {
		return nil
	}
	targets := state.WithStatus(domain.StatusActive)
	if len(targets) == 0 {
		return fmt.Errorf("%w: no active fork to set secrets on", domain.ErrNodeNotFound)
	}

	var errs []error
	for _, index := range targets {
		node := state.Nodes[index]
		if err := m.setRepoSecrets(ctx, node, values); err != nil {
			m.logger.Warn("failed to set secrets", "repo", node.Repo, "node", index, "err", err)
			errs = append(errs, fmt.Errorf("failed to set secrets on %s (node %d): %w", node.Repo, index, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) setRepoSecrets(ctx context.Context, node domain.ForkNode, values []domain.Secret) error {
	remote, err := m.RemoteFor(node.IdentityIndex)
	if err != nil {
		return err
	}
	key, err := remote.RepoPublicKey(ctx, node.Repo)
	if err != nil {
		return fmt.Errorf("failed to fetch public key: %w", err)
	}

	for _, secret := range values {
		sealed, err := m.sealer.Seal(key, []byte(secret.Value))
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", secret.Name, err)
		}
		if err := remote.SetSecret(ctx, node.Repo, secret.Name, sealed); err != nil {
			return fmt.Errorf("failed to set %s: %w", secret.Name, err)
		}
		m.verifySecret(ctx, remote, node.Repo, secret.Name)
	}
	return nil
}

func (m *Manager) verifySecret(ctx context.Context, remote ports.Remote, repo, name string) {
	cfg := retry.Fixed(m.settings.SecretVerifyAttempts, m.settings.SecretVerifyInterval)
	err := retry.Run(ctx, m.executor, cfg, "verify secret "+name+" in "+repo, func(ctx context.Context) error {
		ok, err := remote.SecretExists(ctx, repo, name)
		if err != nil {
			return err
		}
		if !ok {
			return errNoSecret
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("secret set but not verified", "repo", repo, "secret", name, "err", err)
		return
	}
	m.logger.Info("secret set", "repo", repo, "secret", name)
}

// Package rotation decides when the active identity is spent and advances
// the active pointer around the identity ring.
//
// Rotation never creates forks. Creating the next node for the new active
// identity is a separate, explicit fork operation, which keeps repeated
// checks safe to run on a schedule.
package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/forkline/internal/alert"
	"github.com/aretw0/forkline/internal/fork"
	"github.com/aretw0/forkline/internal/lease"
	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/internal/metrics"
	"github.com/aretw0/forkline/internal/quota"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
)

// Result is the outcome of one rotation check.
type Result struct {
	Rotated bool                `json:"rotated"`
	Repo    string              `json:"repo,omitempty"`
	From    int                 `json:"from"`
	To      int                 `json:"to"`
	Report  *domain.QuotaReport `json:"report,omitempty"`
}

// Controller ties quota reports to lifecycle transitions.
type Controller struct {
	store     ports.StateStore
	monitor   *quota.Monitor
	forks     *fork.Manager
	directory ports.IdentityDirectory
	bindings  ports.BindingLookup
	lease     *lease.Lease

	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier ports.Notifier
	now      func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics records rotations.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = mt
	}
}

// WithNotifier alerts on every rotation.
func WithNotifier(n ports.Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithBindings sets the proxy lookup for quota probes.
func WithBindings(lookup ports.BindingLookup) Option {
	return func(c *Controller) {
		c.bindings = lookup
	}
}

// WithLease serializes Run across processes.
func WithLease(l *lease.Lease) Option {
	return func(c *Controller) {
		c.lease = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a Controller.
func NewController(store ports.StateStore, monitor *quota.Monitor, forks *fork.Manager, directory ports.IdentityDirectory, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		monitor:   monitor,
		forks:     forks,
		directory: directory,
		bindings:  ports.NoBindings,
		logger:    logging.NewNop(),
		notifier:  ports.NopNotifier{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run loads the persisted state and checks it, holding the lease for the
// whole load-mutate-save cycle when one is configured.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	var result Result
	err := c.lease.Do(ctx, func(ctx context.Context) error {
		state, err := c.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load state: %w", err)
		}
		result, _, err = c.Check(ctx, state)
		return err
	})
	return result, err
}

// CheckAndRotate reports whether the Active node was rotated out, and the
// state to continue with. The input state is never mutated.
func (c *Controller) CheckAndRotate(ctx context.Context, state *domain.State) (bool, *domain.State, error) {
	result, next, err := c.Check(ctx, state)
	return result.Rotated, next, err
}

// Check is CheckAndRotate with the details of the decision.
func (c *Controller) Check(ctx context.Context, state *domain.State) (Result, *domain.State, error) {
	result := Result{From: state.ActiveIndex, To: state.ActiveIndex}

	// 1. Resolve Active node
	active := state.Active()
	if active < 0 {
		c.logger.Info("no active fork, nothing to rotate")
		return result, state, nil
	}
	node := state.Nodes[active]
	result.Repo = node.Repo
	result.From = node.IdentityIndex

	// 2. Resolve identity and binding
	identity, err := c.directory.Get(node.IdentityIndex)
	if err != nil {
		return result, state, fmt.Errorf("failed to resolve identity of %s (node %d): %w", node.Repo, active, err)
	}
	if identity.Name == "" {
		identity.Name = node.Owner
	}
	binding := c.bindings(identity.Token)

	// 3. Check quota
	report := c.monitor.Check(ctx, identity, binding)
	result.Report = &report
	if !report.IsExhausted {
		if report.IsWarning {
			c.logger.Warn("quota approaching limit", "repo", node.Repo, "identity", report.Identity, "hours", report.HoursEquivalent, "remaining", report.RemainingHours)
		} else {
			c.logger.Info("quota ok", "repo", node.Repo, "identity", report.Identity, "hours", report.HoursEquivalent)
		}
		return result, state, nil
	}

	// 4. Disable automation before transitioning
	remote, err := c.forks.RemoteFor(node.IdentityIndex)
	if err != nil {
		return result, state, fmt.Errorf("failed to connect as owner of %s: %w", node.Repo, err)
	}
	if err := c.forks.DisableAutomation(ctx, remote, node.Repo); err != nil {
		return result, state, fmt.Errorf("failed to rotate %s (node %d): %w", node.Repo, active, err)
	}

	// 5. Advance the ring
	size := state.TotalIdentities
	if size <= 0 {
		size = c.directory.Size()
	}
	if size <= 0 {
		return result, state, fmt.Errorf("failed to rotate %s: %w", node.Repo, domain.ErrEmptyPool)
	}
	nextIndex := (node.IdentityIndex + 1) % size

	now := c.now().UTC()
	next := state.Clone()
	next.Nodes[active].Status = domain.StatusExhausted
	next.Nodes[active].QuotaUsed = report.HoursEquivalent
	next.Nodes[active].UpdatedAt = now
	next.ActiveIndex = nextIndex
	next.TotalIdentities = size
	next.LastRotation = &now

	if err := c.store.Save(ctx, next); err != nil {
		return result, state, fmt.Errorf("failed to save state after rotating %s: %w", node.Repo, err)
	}

	result.Rotated = true
	result.To = nextIndex
	c.metrics.Transition(domain.StatusActive, domain.StatusExhausted)
	c.metrics.Rotated(nextIndex)
	c.logger.Info("rotated",
		"repo", node.Repo,
		"from", node.IdentityIndex,
		"to", nextIndex,
		"hours", report.HoursEquivalent,
		"assumed", report.Assumed,
	)
	alert.Send(ctx, c.notifier, c.logger, fmt.Sprintf("Rotated %s at %.1fh: identity %d -> %d", node.Repo, report.HoursEquivalent, node.IdentityIndex, nextIndex))
	return result, next, nil
}

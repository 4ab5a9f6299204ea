// Package remote routes every remote workspace call through the retry executor.
package remote

import (
	"context"
	"fmt"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
	"github.com/aretw0/forkline/pkg/retry"
)

// Retrying decorates a ports.Remote so each call is retried with backoff.
// The wrapped Remote already reports terminal conditions as empty results,
// so every error seen here is treated as recoverable.
type Retrying struct {
	inner    ports.Remote
	executor *retry.Executor
	config   retry.Config
	identity string
}

var _ ports.Remote = (*Retrying)(nil)

// NewRetrying wraps inner. identity labels every operation in logs and errors.
func NewRetrying(inner ports.Remote, executor *retry.Executor, config retry.Config, identity string) *Retrying {
	return &Retrying{inner: inner, executor: executor, config: config, identity: identity}
}

func (r *Retrying) label(op string, args ...any) string {
	return fmt.Sprintf("%s [%s]", fmt.Sprintf(op, args...), r.identity)
}

func (r *Retrying) Username(ctx context.Context) (string, error) {
	return retry.Do(ctx, r.executor, r.config, r.label("resolve username"), r.inner.Username)
}

func (r *Retrying) RepoExists(ctx context.Context, repo string) (bool, error) {
	return retry.Do(ctx, r.executor, r.config, r.label("check %s", repo), func(ctx context.Context) (bool, error) {
		return r.inner.RepoExists(ctx, repo)
	})
}

func (r *Retrying) CreateFork(ctx context.Context, parent string) (string, error) {
	return retry.Do(ctx, r.executor, r.config, r.label("fork %s", parent), func(ctx context.Context) (string, error) {
		return r.inner.CreateFork(ctx, parent)
	})
}

func (r *Retrying) DeleteRepo(ctx context.Context, repo string) error {
	return retry.Run(ctx, r.executor, r.config, r.label("delete %s", repo), func(ctx context.Context) error {
		return r.inner.DeleteRepo(ctx, repo)
	})
}

type triggerLookup struct {
	id int64
	ok bool
}

func (r *Retrying) AutomationTriggerID(ctx context.Context, repo, fileHint string) (int64, bool, error) {
	found, err := retry.Do(ctx, r.executor, r.config, r.label("find workflow %s in %s", fileHint, repo), func(ctx context.Context) (triggerLookup, error) {
		id, ok, err := r.inner.AutomationTriggerID(ctx, repo, fileHint)
		return triggerLookup{id: id, ok: ok}, err
	})
	return found.id, found.ok, err
}

func (r *Retrying) EnableAutomation(ctx context.Context, repo string, triggerID int64) error {
	return retry.Run(ctx, r.executor, r.config, r.label("enable workflow %d in %s", triggerID, repo), func(ctx context.Context) error {
		return r.inner.EnableAutomation(ctx, repo, triggerID)
	})
}

func (r *Retrying) DisableAutomation(ctx context.Context, repo string, triggerID int64) error {
	return retry.Run(ctx, r.executor, r.config, r.label("disable workflow %d in %s", triggerID, repo), func(ctx context.Context) error {
		return r.inner.DisableAutomation(ctx, repo, triggerID)
	})
}

func (r *Retrying) DispatchAutomation(ctx context.Context, repo, fileHint, ref string) error {
	return retry.Run(ctx, r.executor, r.config, r.label("dispatch %s in %s", fileHint, repo), func(ctx context.Context) error {
		return r.inner.DispatchAutomation(ctx, repo, fileHint, ref)
	})
}

type runLookup struct {
	run ports.RunStatus
	ok  bool
}

func (r *Retrying) LatestRun(ctx context.Context, repo, fileHint string) (ports.RunStatus, bool, error) {
	found, err := retry.Do(ctx, r.executor, r.config, r.label("latest run of %s in %s", fileHint, repo), func(ctx context.Context) (runLookup, error) {
		run, ok, err := r.inner.LatestRun(ctx, repo, fileHint)
		return runLookup{run: run, ok: ok}, err
	})
	return found.run, found.ok, err
}

func (r *Retrying) Run(ctx context.Context, repo string, runID int64) (ports.RunStatus, error) {
	return retry.Do(ctx, r.executor, r.config, r.label("run %d in %s", runID, repo), func(ctx context.Context) (ports.RunStatus, error) {
		return r.inner.Run(ctx, repo, runID)
	})
}

func (r *Retrying) Usage(ctx context.Context, username string) (domain.Usage, error) {
	return retry.Do(ctx, r.executor, r.config, r.label("usage of %s", username), func(ctx context.Context) (domain.Usage, error) {
		return r.inner.Usage(ctx, username)
	})
}

// Connector wraps every Remote produced by inner in a Retrying decorator.
type Connector struct {
	inner    ports.Connector
	executor *retry.Executor
	config   retry.Config
}

var _ ports.Connector = (*Connector)(nil)

// NewConnector creates a retrying Connector.
func NewConnector(inner ports.Connector, executor *retry.Executor, config retry.Config) *Connector {
	return &Connector{inner: inner, executor: executor, config: config}
}

// Connect implements ports.Connector.
func (c *Connector) Connect(identity domain.Identity, binding *domain.ProxyBinding) (ports.Remote, error) {
	inner, err := c.inner.Connect(identity, binding)
	if err != nil {
		return nil, err
	}
	return NewRetrying(inner, c.executor, c.config, identity.String()), nil
}

func (r *Retrying) RepoPublicKey(ctx context.Context, repo string) (domain.PublicKey, error) {
	return retry.Do(ctx, r.executor, r.config, r.label("fetch secrets key of %s", repo), func(ctx context.Context) (domain.PublicKey, error) {
		return r.inner.RepoPublicKey(ctx, repo)
	})
}

func (r *Retrying) SetSecret(ctx context.Context, repo, name string, sealed domain.SealedSecret) error {
	return retry.Run(ctx, r.executor, r.config, r.label("set secret %s in %s", name, repo), func(ctx context.Context) error {
		return r.inner.SetSecret(ctx, repo, name, sealed)
	})
}

func (r *Retrying) SecretExists(ctx context.Context, repo, name string) (bool, error) {
	return retry.Do(ctx, r.executor, r.config, r.label("check secret %s in %s", name, repo), func(ctx context.Context) (bool, error) {
		return r.inner.SecretExists(ctx, repo, name)
	})
}

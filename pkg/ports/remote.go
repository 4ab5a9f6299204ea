package ports

import (
	"context"

	"github.com/aretw0/forkline/pkg/domain"
)

// RunStatus is the observed status of one automation run.
type RunStatus struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
}

// Completed reports whether the run reached a final status.
func (r RunStatus) Completed() bool {
	return r.Status == "completed"
}

// Remote is the set of remote workspace operations the core depends on.
// Terminal conditions (not found, already disabled) are reported as
// empty results rather than errors so retry layers never repeat them.
type Remote interface {
	// Username resolves the login bound to the credential.
	Username(ctx context.Context) (string, error)

	// RepoExists reports whether the workspace exists.
	RepoExists(ctx context.Context, repo string) (bool, error)

	// CreateFork forks parent and returns the new workspace identifier.
	CreateFork(ctx context.Context, parent string) (string, error)

	// DeleteRepo irreversibly deletes the workspace.
	DeleteRepo(ctx context.Context, repo string) error

	// AutomationTriggerID resolves the trigger whose path contains fileHint.
	// ok is false when no such trigger exists.
	AutomationTriggerID(ctx context.Context, repo, fileHint string) (id int64, ok bool, err error)

	// EnableAutomation enables a trigger. Already enabled is success.
	EnableAutomation(ctx context.Context, repo string, triggerID int64) error

	// DisableAutomation disables a trigger. Already disabled is success.
	DisableAutomation(ctx context.Context, repo string, triggerID int64) error

	// DispatchAutomation starts a run of the trigger on ref.
	DispatchAutomation(ctx context.Context, repo, fileHint, ref string) error

	// LatestRun returns the newest run of the trigger; ok is false when none exists.
	LatestRun(ctx context.Context, repo, fileHint string) (run RunStatus, ok bool, err error)

	// Run returns the current status of a run.
	Run(ctx context.Context, repo string, runID int64) (RunStatus, error)

	// Usage returns the metered usage of the named account.
	Usage(ctx context.Context, username string) (domain.Usage, error)

	// RepoPublicKey returns the key secrets of repo must be sealed against.
	RepoPublicKey(ctx context.Context, repo string) (domain.PublicKey, error)

	// SetSecret creates or replaces a sealed secret.
	SetSecret(ctx context.Context, repo, name string, sealed domain.SealedSecret) error

	// SecretExists reports whether the named secret is set. Not found is false.
	SecretExists(ctx context.Context, repo, name string) (bool, error)
}

// Connector builds a Remote authenticated as identity, routed through binding
// when binding is non-nil.
type Connector interface {
	Connect(identity domain.Identity, binding *domain.ProxyBinding) (Remote, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(identity domain.Identity, binding *domain.ProxyBinding) (Remote, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(identity domain.Identity, binding *domain.ProxyBinding) (Remote, error) {
	return f(identity, binding)
}

// BindingLookup returns the proxy binding of a token, or nil when none is bound.
type BindingLookup func(token string) *domain.ProxyBinding

// NoBindings is a BindingLookup for pools without proxies.
func NoBindings(string) *domain.ProxyBinding { return nil }

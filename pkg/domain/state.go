package domain

import (
	"fmt"
	"time"
)

// ForkStatus is the lifecycle status of a fork chain node.
type ForkStatus string

const (
	StatusSource    ForkStatus = "source"    // Root workspace, never transitions
	StatusActive    ForkStatus = "active"    // Currently receiving automated work
	StatusExhausted ForkStatus = "exhausted" // Quota spent, automation disabled, workspace retained
	StatusDisabled  ForkStatus = "disabled"  // Torn down
)

// Terminal reports whether no transition leaves this status.
func (s ForkStatus) Terminal() bool {
	return s == StatusSource || s == StatusDisabled
}

// ForkNode is one workspace derived from a parent workspace.
type ForkNode struct {
	// IdentityIndex binds the node to one identity by pool position.
	IdentityIndex int `json:"identity_index"`

	// Owner is the identity display name at creation time.
	Owner string `json:"owner,omitempty"`

	// Repo is the workspace identifier ("owner/name").
	Repo string `json:"repo"`

	// Parent is absent only for the Source node.
	Parent *string `json:"parent,omitempty"`

	// QuotaUsed is the last known hours-equivalent usage.
	QuotaUsed float64 `json:"quota_used"`

	Status    ForkStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// State is the orchestrator aggregate, persisted as a single unit.
// Nodes are append-only; they are never removed, only status-transitioned.
type State struct {
	Nodes []ForkNode `json:"fork_chain"`

	// ActiveIndex is the pool index of the identity considered current.
	ActiveIndex int `json:"current_active_index"`

	// TotalIdentities is the identity pool size.
	TotalIdentities int `json:"total_accounts"`

	LastRotation *time.Time `json:"last_rotation,omitempty"`
}

// NewState creates the empty first-run state.
func NewState() *State {
	return &State{Nodes: []ForkNode{}}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s *State) Clone() *State {
	if s == nil {
		return NewState()
	}
	out := *s
	out.Nodes = make([]ForkNode, len(s.Nodes))
	for i, n := range s.Nodes {
		if n.Parent != nil {
			p := *n.Parent
			n.Parent = &p
		}
		out.Nodes[i] = n
	}
	if s.LastRotation != nil {
		t := *s.LastRotation
		out.LastRotation = &t
	}
	return &out
}

// Active returns the index of the first Active node, or -1 when rotation has stalled.
func (s *State) Active() int {
	for i, n := range s.Nodes {
		if n.Status == StatusActive {
			return i
		}
	}
	return -1
}

// FindRepo returns the chain index of repo, or -1.
func (s *State) FindRepo(repo string) int {
	for i, n := range s.Nodes {
		if n.Repo == repo {
			return i
		}
	}
	return -1
}

// Source returns the index of the Source node, or -1.
func (s *State) Source() int {
	for i, n := range s.Nodes {
		if n.Status == StatusSource {
			return i
		}
	}
	return -1
}

// WithStatus returns the chain indexes holding the given status, oldest first.
func (s *State) WithStatus(status ForkStatus) []int {
	var out []int
	for i, n := range s.Nodes {
		if n.Status == status {
			out = append(out, i)
		}
	}
	return out
}

// Counts tallies nodes per status.
func (s *State) Counts() map[ForkStatus]int {
	out := make(map[ForkStatus]int, 4)
	for _, n := range s.Nodes {
		out[n.Status]++
	}
	return out
}

// Validate checks the chain invariants: at most one Source and one Active
// node, every fork has a parent, no repo is live twice, and ActiveIndex lies
// inside the pool. Violations wrap ErrInvalidChain.
func (s *State) Validate() error {
	var sources, actives int
	live := make(map[string]int, len(s.Nodes))
	for i, n := range s.Nodes {
		switch n.Status {
		case StatusSource:
			sources++
		case StatusActive:
			actives++
		}
		if n.Status != StatusSource && n.Parent == nil {
			return fmt.Errorf("%w: node %d (%s) has no parent", ErrInvalidChain, i, n.Repo)
		}
		if n.Status == StatusDisabled {
			continue
		}
		if j, ok := live[n.Repo]; ok {
			return fmt.Errorf("%w: %s appears at %d and %d", ErrInvalidChain, n.Repo, j, i)
		}
		live[n.Repo] = i
	}
	if sources > 1 {
		return fmt.Errorf("%w: %d source nodes", ErrInvalidChain, sources)
	}
	if actives > 1 {
		return fmt.Errorf("%w: %d active nodes", ErrInvalidChain, actives)
	}
	if s.TotalIdentities > 0 && (s.ActiveIndex < 0 || s.ActiveIndex >= s.TotalIdentities) {
		return fmt.Errorf("%w: active index %d outside pool of %d", ErrInvalidChain, s.ActiveIndex, s.TotalIdentities)
	}
	return nil
}

package ports

import "github.com/aretw0/forkline/pkg/domain"

// IdentityDirectory resolves identities by their stable pool index.
type IdentityDirectory interface {
	// Get returns the identity at index or domain.ErrIdentityNotFound.
	Get(index int) (domain.Identity, error)

	// Size is the configured pool size used for ring arithmetic.
	Size() int
}

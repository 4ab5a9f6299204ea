package ports

import "github.com/aretw0/forkline/pkg/domain"

// Sealer encrypts a secret value for a repository public key.
type Sealer interface {
	Seal(key domain.PublicKey, value []byte) (domain.SealedSecret, error)
}

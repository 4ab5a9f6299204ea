package memory

import (
	"fmt"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
)

// Directory is a fixed identity pool.
type Directory struct {
	identities []domain.Identity
	size       int
}

var _ ports.IdentityDirectory = (*Directory)(nil)

// NewDirectory indexes tokens by position.
func NewDirectory(tokens ...string) *Directory {
	d := &Directory{size: len(tokens)}
	for i, token := range tokens {
		d.identities = append(d.identities, domain.Identity{Index: i, Token: token})
	}
	return d
}

// Drop removes the identity at index while keeping the configured size.
func (d *Directory) Drop(index int) {
	for i, identity := range d.identities {
		if identity.Index == index {
			d.identities = append(d.identities[:i], d.identities[i+1:]...)
			return
		}
	}
}

func (d *Directory) Get(index int) (domain.Identity, error) {
	for _, identity := range d.identities {
		if identity.Index == index {
			return identity, nil
		}
	}
	return domain.Identity{}, fmt.Errorf("%w: index %d", domain.ErrIdentityNotFound, index)
}

func (d *Directory) Size() int {
	return d.size
}

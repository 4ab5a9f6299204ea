package domain

import "fmt"

// Identity is a worker credential.
// Identities are loaded once per run and never mutated, only filtered.
type Identity struct {
	// Index is the stable position of the identity in the configured pool.
	Index int `json:"index"`

	// Name is the display name (login) resolved from the remote service.
	// It may be empty until resolved.
	Name string `json:"name,omitempty"`

	// Token is the opaque authentication token.
	Token string `json:"-"`
}

// Redacted returns a short, log-safe prefix of the token.
func (i Identity) Redacted() string {
	return RedactToken(i.Token)
}

// String implements fmt.Stringer without leaking the token.
func (i Identity) String() string {
	if i.Name != "" {
		return fmt.Sprintf("#%d @%s", i.Index, i.Name)
	}
	return fmt.Sprintf("#%d %s", i.Index, i.Redacted())
}

// RedactToken keeps the first 12 characters of a token.
func RedactToken(token string) string {
	const keep = 12
	if len(token) <= keep {
		return token + "..."
	}
	return token[:keep] + "..."
}

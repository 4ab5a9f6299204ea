package domain

// PublicKey is the key a repository's Actions secrets are sealed against.
// Key is base64 encoded.
type PublicKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

// SealedSecret is a secret value encrypted for one PublicKey.
type SealedSecret struct {
	KeyID          string `json:"key_id"`
	EncryptedValue string `json:"encrypted_value"`
}

// Secret is a named plaintext value pushed to every Active fork.
type Secret struct {
	Name  string
	Value string
}

// String hides the value.
func (s Secret) String() string {
	return s.Name + "=***"
}

// Package secrets loads Actions secret values and seals them for a repository.
package secrets

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/forkline/internal/config"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
	"golang.org/x/crypto/nacl/box"
)

// ErrEmptySecret is returned when a secret file holds no value.
var ErrEmptySecret = errors.New("secret file is empty")

// BoxSealer seals values with an anonymous NaCl box, the format
// GitHub expects for Actions secrets.
type BoxSealer struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

var _ ports.Sealer = BoxSealer{}

// Seal encrypts value for key and returns it base64 encoded.
func (s BoxSealer) Seal(key domain.PublicKey, value []byte) (domain.SealedSecret, error) {
	raw, err := base64.StdEncoding.DecodeString(key.Key)
	if err != nil {
		return domain.SealedSecret{}, fmt.Errorf("failed to decode public key %s: %w", key.KeyID, err)
	}
	if len(raw) != 32 {
		return domain.SealedSecret{}, fmt.Errorf("public key %s is %d bytes, want 32", key.KeyID, len(raw))
	}
	var recipient [32]byte
	copy(recipient[:], raw)

	random := s.Rand
	if random == nil {
		random = rand.Reader
	}
	sealed, err := box.SealAnonymous(nil, value, &recipient, random)
	if err != nil {
		return domain.SealedSecret{}, fmt.Errorf("failed to seal value for key %s: %w", key.KeyID, err)
	}
	return domain.SealedSecret{
		KeyID:          key.KeyID,
		EncryptedValue: base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// Load reads every configured secret. Each file is read line by line:
// lines are trimmed, blank lines dropped, and the rest joined with "\n".
// resolve maps a configured file to its path.
func Load(sources []config.Secret, resolve func(string) string) ([]domain.Secret, error) {
	out := make([]domain.Secret, 0, len(sources))
	for _, src := range sources {
		path := src.File
		if resolve != nil {
			path = resolve(path)
		}
		value, err := readValue(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load secret %s: %w", src.Name, err)
		}
		out = append(out, domain.Secret{Name: src.Name, Value: value})
	}
	return out, nil
}

func readValue(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptySecret, path)
	}
	return strings.Join(lines, "\n"), nil
}

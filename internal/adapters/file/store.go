package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/forkline/pkg/domain"
)

// DefaultStatePath is the state file location relative to the config directory.
var DefaultStatePath = filepath.Join("cache", "active.json")

// Store implements ports.StateStore using a single JSON document on the local filesystem.
type Store struct {
	Path string
}

// New creates a new Store persisting to path.
// If path is empty, it defaults to "cache/active.json".
func New(path string) *Store {
	if path == "" {
		path = DefaultStatePath
	}
	return &Store{Path: path}
}

// Load reads the state file. A missing file yields a fresh default state.
func (s *Store) Load(ctx context.Context) (*domain.State, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewState(), nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", s.Path, err)
	}

	var state domain.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStateCorrupt, s.Path, err)
	}
	if state.Nodes == nil {
		state.Nodes = []domain.ForkNode{}
	}
	return &state, nil
}

// Save persists the full aggregate atomically.
func (s *Store) Save(ctx context.Context, state *domain.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return WriteAtomic(s.Path, data, 0o600)
}

// WriteAtomic replaces path with data so that readers never observe a partial file.
// It writes to a temporary file in the same directory, syncs it, and renames it over path.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure directory %s: %w", dir, err)
	}

	// 1. Create Temp File
	// Same directory keeps us on the same filesystem (required for atomic rename).
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Cleanup temp file in case of failure; after a successful rename it is already gone.
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	// 2. Write Data
	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set temp file mode: %w", err)
	}

	// 3. Fsync to ensure durability
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}

	// 4. Close File (cannot rename open file on Windows)
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// 5. Atomic Rename
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file over %s: %w", path, err)
	}
	return nil
}

package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LocalStore reads credentials from a JSON file on the local filesystem.
// Intended for development and testing only.
//
// File shape:
//
//	{
//	  "scout-smtp": {"username": "scout@example.com", "password": "..."}
//	}
type LocalStore struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Credential
}

// NewLocalStore creates a file-backed credential store. If path is empty it
// defaults to ~/.scout/credentials.json.
func NewLocalStore(path string, logger *slog.Logger) (*LocalStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".scout", "credentials.json")
	}
	logger.Info("using local credential store", "path", path)
	return &LocalStore{path: path, logger: logger}, nil
}

// GetCredential implements Store.
func (s *LocalStore) GetCredential(_ context.Context, name string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache == nil {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		if err := json.Unmarshal(data, &s.cache); err != nil {
			return nil, fmt.Errorf("parsing credentials file: %w", err)
		}
	}
	cred, ok := s.cache[name]
	if !ok {
		return nil, fmt.Errorf("credential %q not found in %s", name, s.path)
	}
	return &cred, nil
}

package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// OnePasswordStore resolves credentials from a 1Password Connect server.
//
// Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: Access token for the Connect server
//   - OP_VAULT: Title of the vault holding scout credentials
type OnePasswordStore struct {
	client  connect.Client
	vault   string
	logger  *slog.Logger

	mu      sync.Mutex
	vaultID string
}

// NewOnePasswordStore creates a Connect-backed credential store.
func NewOnePasswordStore(host, token, vault string, logger *slog.Logger) (*OnePasswordStore, error) {
	if host == "" {
		return nil, fmt.Errorf("OP_CONNECT_HOST not set")
	}
	client := connect.NewClient(host, token)
	logger.Info("using 1Password credential store", "host", host, "vault", vault)
	return &OnePasswordStore{
		client: client,
		vault:  vault,
		logger: logger,
	}, nil
}

// GetCredential implements Store. The item's username/password fields are
// read by purpose, matching how 1Password stores login items.
func (s *OnePasswordStore) GetCredential(_ context.Context, name string) (*Credential, error) {
	vaultID, err := s.resolveVault()
	if err != nil {
		return nil, err
	}
	item, err := s.client.GetItemByTitle(name, vaultID)
	if err != nil {
		return nil, fmt.Errorf("fetching item %q: %w", name, err)
	}
	cred := &Credential{}
	for _, f := range item.Fields {
		switch f.Purpose {
		case onepassword.FieldPurposeUsername:
			cred.Username = f.Value
		case onepassword.FieldPurposePassword:
			cred.Password = f.Value
		}
	}
	if cred.Password == "" {
		return nil, fmt.Errorf("item %q has no password field", name)
	}
	return cred, nil
}

func (s *OnePasswordStore) resolveVault() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vaultID != "" {
		return s.vaultID, nil
	}
	vaults, err := s.client.GetVaultsByTitle(s.vault)
	if err != nil {
		return "", fmt.Errorf("resolving vault %q: %w", s.vault, err)
	}
	if len(vaults) == 0 {
		return "", fmt.Errorf("vault %q not found", s.vault)
	}
	s.vaultID = vaults[0].ID
	return s.vaultID, nil
}

// Package credential keeps the client's session token in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const (
	serviceName     = "vault"
	sessionTokenKey = "session_token"
	// EnvToken overrides the stored token when set.
	EnvToken = "VAULT_TOKEN"
)

// ErrNoToken means the user has not logged in.
var ErrNoToken = errors.New("Not authenticated")

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.vault/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("vault-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// TokenStore reads and writes the session token.
type TokenStore struct {
	ring keyring.Keyring
	env  func(string) string
}

// Open uses the system keyring.
func Open() (*TokenStore, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	return NewTokenStore(ring), nil
}

// NewTokenStore wraps an existing keyring, e.g. keyring.NewArrayKeyring in tests.
func NewTokenStore(ring keyring.Keyring) *TokenStore {
	return &TokenStore{ring: ring, env: os.Getenv}
}

// Token returns the session token. VAULT_TOKEN wins over the keyring.
func (s *TokenStore) Token() (string, error) {
	if token := strings.TrimSpace(s.env(EnvToken)); token != "" {
		return token, nil
	}

	item, err := s.ring.Get(sessionTokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", sessionTokenKey, err)
	}
	token := strings.TrimSpace(string(item.Data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// SetToken stores token in the keyring.
func (s *TokenStore) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token cannot be empty")
	}
	err := s.ring.Set(keyring.Item{
		Key:   sessionTokenKey,
		Data:  []byte(token),
		Label: "Vault session token",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", sessionTokenKey, err)
	}
	return nil
}

// Clear removes the stored token. Clearing when logged out is not an error.
func (s *TokenStore) Clear() error {
	err := s.ring.Remove(sessionTokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", sessionTokenKey, err)
	}
	return nil
}

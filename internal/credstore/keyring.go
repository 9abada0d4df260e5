package credstore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore persists keys in the OS credential manager under a service name.
// Preferred backend on desktops; falls back to FileStore where no keyring daemon
// is available.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a KeyringStore scoped to the given service name.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Get(key string) (string, error) {
	v, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("credstore: keyring get %s: %w", key, err)
	}
	return v, nil
}

func (s *KeyringStore) Set(key, value string) error {
	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("credstore: keyring set %s: %w", key, err)
	}
	return nil
}

func (s *KeyringStore) Delete(key string) error {
	if err := keyring.Delete(s.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("credstore: keyring delete %s: %w", key, err)
	}
	return nil
}

// ClearAll deletes each credential key in clearOrder. The keyring has no
// transaction, so deletes proceed even when one fails and the first failure is
// returned; the access token goes first so an interrupted clear cannot leave a
// usable bearer token behind.
func (s *KeyringStore) ClearAll() error {
	var firstErr error
	for _, k := range clearOrder {
		if err := s.Delete(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

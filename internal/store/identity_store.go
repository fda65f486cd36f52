package store

import (
	"context"

	"cipherroom/internal/domain"
)

const identityKey = "identity"

// SaveIdentity writes the local device identity.
func (s *KeyStore) SaveIdentity(_ context.Context, id domain.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putJSON(s.kv, identityKey, id)
}

// LoadIdentity reads the local device identity.
func (s *KeyStore) LoadIdentity(_ context.Context) (domain.DeviceIdentity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id domain.DeviceIdentity
	ok, err := getJSON(s.kv, identityKey, &id)
	return id, ok, err
}

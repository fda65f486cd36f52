package store

import (
	"context"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"cipherroom/internal/domain"
)

const (
	currentSignedPreKey = "signedPreKey/current"
	oneTimeIndexKey     = "preKey/index"
	oneTimeNextIDKey    = "preKey/nextId"
)

func signedPreKeyKey(id domain.SignedPreKeyID) string {
	return "signedPreKey/" + strconv.FormatUint(uint64(id), 10)
}

func oneTimePreKeyKey(id domain.OneTimePreKeyID) string {
	return "preKey/" + strconv.FormatUint(uint64(id), 10)
}

// SaveSignedPreKey stores a signed pre-key by id.
func (s *KeyStore) SaveSignedPreKey(_ context.Context, pair domain.SignedPreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putJSON(s.kv, signedPreKeyKey(pair.ID), pair)
}

// LoadSignedPreKey retrieves a signed pre-key by id.
func (s *KeyStore) LoadSignedPreKey(
	_ context.Context,
	id domain.SignedPreKeyID,
) (domain.SignedPreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p domain.SignedPreKeyPair
	ok, err := getJSON(s.kv, signedPreKeyKey(id), &p)
	return p, ok, err
}

// SetCurrentSignedPreKeyID records which signed pre-key id is current.
func (s *KeyStore) SetCurrentSignedPreKeyID(_ context.Context, id domain.SignedPreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putJSON(s.kv, currentSignedPreKey, id)
}

// CurrentSignedPreKeyID returns the recorded current signed pre-key id.
func (s *KeyStore) CurrentSignedPreKeyID(_ context.Context) (domain.SignedPreKeyID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id domain.SignedPreKeyID
	ok, err := getJSON(s.kv, currentSignedPreKey, &id)
	return id, ok, err
}

// ReserveOneTimePreKeyIDs reserves n consecutive ids and returns the first.
// Ids start at 1 and are never reused.
func (s *KeyStore) ReserveOneTimePreKeyIDs(_ context.Context, n int) (domain.OneTimePreKeyID, error) {
	if n <= 0 {
		return 0, errors.Errorf("reserve %d one-time pre-key ids", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := domain.OneTimePreKeyID(1)
	if _, err := getJSON(s.kv, oneTimeNextIDKey, &next); err != nil {
		return 0, err
	}
	if err := putJSON(s.kv, oneTimeNextIDKey, next+domain.OneTimePreKeyID(n)); err != nil {
		return 0, err
	}
	return next, nil
}

// SaveOneTimePreKeys merges the provided one-time pre-key pairs into the store.
func (s *KeyStore) SaveOneTimePreKeys(_ context.Context, pairs []domain.OneTimePreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.oneTimeIndex()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := putJSON(s.kv, oneTimePreKeyKey(p.ID), p); err != nil {
			return err
		}
		index[p.ID] = struct{}{}
	}
	return s.saveOneTimeIndex(index)
}

// LoadOneTimePreKey returns a one-time pre-key without consuming it.
func (s *KeyStore) LoadOneTimePreKey(
	_ context.Context,
	id domain.OneTimePreKeyID,
) (domain.OneTimePreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p domain.OneTimePreKeyPair
	ok, err := getJSON(s.kv, oneTimePreKeyKey(id), &p)
	return p, ok, err
}

// RemoveOneTimePreKey deletes a one-time pre-key. Removing a missing id is not an error.
func (s *KeyStore) RemoveOneTimePreKey(_ context.Context, id domain.OneTimePreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.oneTimeIndex()
	if err != nil {
		return err
	}
	if err := s.kv.Delete(oneTimePreKeyKey(id)); err != nil {
		return err
	}
	delete(index, id)
	return s.saveOneTimeIndex(index)
}

// ListOneTimePreKeys exposes only the public halves, ordered by id.
func (s *KeyStore) ListOneTimePreKeys(_ context.Context) ([]domain.OneTimePreKeyPublic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.oneTimeIndex()
	if err != nil {
		return nil, err
	}
	out := make([]domain.OneTimePreKeyPublic, 0, len(index))
	for id := range index {
		var p domain.OneTimePreKeyPair
		ok, err := getJSON(s.kv, oneTimePreKeyKey(id), &p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, domain.OneTimePreKeyPublic{ID: p.ID, Pub: p.Pub})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *KeyStore) oneTimeIndex() (map[domain.OneTimePreKeyID]struct{}, error) {
	var ids []domain.OneTimePreKeyID
	if _, err := getJSON(s.kv, oneTimeIndexKey, &ids); err != nil {
		return nil, err
	}
	m := make(map[domain.OneTimePreKeyID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m, nil
}

func (s *KeyStore) saveOneTimeIndex(m map[domain.OneTimePreKeyID]struct{}) error {
	ids := make([]domain.OneTimePreKeyID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return putJSON(s.kv, oneTimeIndexKey, ids)
}

package store

import (
	"context"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"cipherroom/internal/domain"
)

// ErrRoomKeyExists is returned when a different secret is saved under a
// version that is already stored.
var ErrRoomKeyExists = errors.New("store: room key version already stored")

func roomKeyKey(room domain.RoomID, v domain.KeyVersion) string {
	return "roomKey/" + joinKey(string(room), strconv.FormatUint(uint64(v), 10))
}

func roomVersionsKey(room domain.RoomID) string {
	return "roomKey/" + joinKey(string(room)) + "/versions"
}

func roomLatestKey(room domain.RoomID) string {
	return "roomKey/" + joinKey(string(room)) + "/latest"
}

// SaveRoomKey stores a room key. Saving the identical secret again is a no-op;
// a different secret for a stored version is rejected.
func (s *KeyStore) SaveRoomKey(_ context.Context, key domain.RoomKey) error {
	if key.Version == 0 {
		return errors.New("save room key: version must be at least 1")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing domain.RoomKey
	ok, err := getJSON(s.kv, roomKeyKey(key.RoomID, key.Version), &existing)
	if err != nil {
		return err
	}
	if ok {
		if existing.Secret != key.Secret {
			return errors.Wrapf(ErrRoomKeyExists, "room %s version %d", key.RoomID, key.Version)
		}
		s.cacheRoomKey(existing)
		return nil
	}

	if err := putJSON(s.kv, roomKeyKey(key.RoomID, key.Version), key); err != nil {
		return err
	}
	versions, err := s.roomVersions(key.RoomID)
	if err != nil {
		return err
	}
	versions = append(versions, key.Version)
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	if err := putJSON(s.kv, roomVersionsKey(key.RoomID), versions); err != nil {
		return err
	}
	s.cacheRoomKey(key)
	return nil
}

// LoadRoomKey returns a stored room key, from memory when already seen.
func (s *KeyStore) LoadRoomKey(
	_ context.Context,
	room domain.RoomID,
	version domain.KeyVersion,
) (domain.RoomKey, bool, error) {
	s.roomMu.RLock()
	k, ok := s.roomKeys[roomVersion{room, version}]
	s.roomMu.RUnlock()
	if ok {
		return k, true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := getJSON(s.kv, roomKeyKey(room, version), &k)
	if err != nil || !ok {
		return domain.RoomKey{}, false, err
	}
	s.cacheRoomKey(k)
	return k, true, nil
}

// RoomKeyVersions lists the stored versions of room in ascending order.
func (s *KeyStore) RoomKeyVersions(_ context.Context, room domain.RoomID) ([]domain.KeyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomVersions(room)
}

// LatestRoomKeyVersion returns the active version pointer of room.
func (s *KeyStore) LatestRoomKeyVersion(_ context.Context, room domain.RoomID) (domain.KeyVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var v domain.KeyVersion
	ok, err := getJSON(s.kv, roomLatestKey(room), &v)
	if err != nil || !ok || v == 0 {
		return 0, false, err
	}
	return v, true, nil
}

// SetLatestRoomKeyVersion advances the pointer; an older version is ignored.
func (s *KeyStore) SetLatestRoomKeyVersion(_ context.Context, room domain.RoomID, version domain.KeyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur domain.KeyVersion
	if _, err := getJSON(s.kv, roomLatestKey(room), &cur); err != nil {
		return err
	}
	if version <= cur {
		return nil
	}
	return putJSON(s.kv, roomLatestKey(room), version)
}

func (s *KeyStore) roomVersions(room domain.RoomID) ([]domain.KeyVersion, error) {
	var versions []domain.KeyVersion
	if _, err := getJSON(s.kv, roomVersionsKey(room), &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (s *KeyStore) cacheRoomKey(k domain.RoomKey) {
	s.roomMu.Lock()
	s.roomKeys[roomVersion{k.RoomID, k.Version}] = k
	s.roomMu.Unlock()
}

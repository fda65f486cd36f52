package store

import (
	"sync"

	"cipherroom/internal/domain"
)

type roomVersion struct {
	room    domain.RoomID
	version domain.KeyVersion
}

// KeyStore implements domain.KeyStore over any KV. Values are JSON records;
// index records (one-time pre-key ids, room key versions) are updated under mu
// so concurrent writers never lose an entry.
type KeyStore struct {
	kv KV
	mu sync.Mutex

	roomMu   sync.RWMutex
	roomKeys map[roomVersion]domain.RoomKey
}

// NewKeyStore returns a KeyStore backed by kv. Callers normally pass a
// Sealed(Namespace(backend, user), passphrase) view.
func NewKeyStore(kv KV) *KeyStore {
	return &KeyStore{kv: kv, roomKeys: make(map[roomVersion]domain.RoomKey)}
}

// Compile-time assertion that KeyStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyStore)(nil)

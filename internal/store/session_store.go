package store

import (
	"context"

	"github.com/pkg/errors"

	"cipherroom/internal/domain"
)

func sessionKey(peer domain.DeviceAddress) string {
	return "session/" + joinKey(string(peer.UserID), string(peer.DeviceID))
}

// SaveSession writes the session record for s.Peer.
func (s *KeyStore) SaveSession(_ context.Context, sess domain.Session) error {
	if sess.Peer.IsZero() {
		return errors.New("save session: empty peer address")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return putJSON(s.kv, sessionKey(sess.Peer), sess)
}

// LoadSession retrieves a stored session for peer.
func (s *KeyStore) LoadSession(_ context.Context, peer domain.DeviceAddress) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sess domain.Session
	ok, err := getJSON(s.kv, sessionKey(peer), &sess)
	return sess, ok, err
}

// DeleteSession removes the session record for peer.
func (s *KeyStore) DeleteSession(_ context.Context, peer domain.DeviceAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(sessionKey(peer))
}

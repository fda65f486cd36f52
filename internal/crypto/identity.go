package crypto

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"

	"cipherroom/internal/domain"
)

// MaxRegistrationID bounds the 14-bit registration id range (1..16380).
const MaxRegistrationID = 16380

// NewIdentity generates a fresh X25519 key pair and an Ed25519 key pair.
func NewIdentity() (domain.Identity, error) {
	var id domain.Identity
	var err error
	if id.XPriv, id.XPub, err = GenerateX25519(); err != nil {
		return domain.Identity{}, errors.Wrap(err, "generate x25519 identity")
	}
	if id.EdPriv, id.EdPub, err = GenerateEd25519(); err != nil {
		return domain.Identity{}, errors.Wrap(err, "generate ed25519 identity")
	}
	return id, nil
}

// NewRegistrationID picks a uniformly random registration id in 1..16380.
func NewRegistrationID() (domain.RegistrationID, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, errors.Wrap(err, "read random")
		}
		v := binary.BigEndian.Uint32(b[:]) & 0x3fff
		if v >= 1 && v <= MaxRegistrationID {
			return domain.RegistrationID(v), nil
		}
	}
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "read random")
	}
	return b, nil
}

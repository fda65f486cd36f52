package x3dh

import (
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/util/memzero"
)

const rootKeySize = 32

var hkdfInfo = []byte("cipherroom-x3dh")

var (
	// ErrBadSignedPreKey is returned when the signed pre-key signature fails verification.
	ErrBadSignedPreKey = errors.New("x3dh: signed pre-key signature invalid")
	// ErrMissingOneTimePreKey is returned when the message names a one-time
	// pre-key the responder did not supply.
	ErrMissingOneTimePreKey = errors.New("x3dh: one-time pre-key required")
)

// InitiatorRoot verifies the bundle and derives the initiator's root key. The
// first offered one-time pre-key, if any, is mixed in. The returned message
// carries everything the responder needs except the registration id.
func InitiatorRoot(id domain.Identity, bundle domain.PreKeyBundle) ([]byte, domain.PreKeyMessage, error) {
	spk := bundle.SignedPreKey
	if !VerifySignedPreKey(bundle.SigningKey, spk.Pub, spk.Signature) {
		return nil, domain.PreKeyMessage{}, ErrBadSignedPreKey
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, domain.PreKeyMessage{}, errors.Wrap(err, "x3dh: ephemeral key")
	}
	defer memzero.Zero(ephPriv[:])

	transcript := make([]byte, 0, 32*4)
	for _, pair := range []struct {
		priv domain.X25519Private
		pub  domain.X25519Public
	}{
		{id.XPriv, spk.Pub},          // DH(IKa, SPKb)
		{ephPriv, bundle.IdentityKey}, // DH(EKa, IKb)
		{ephPriv, spk.Pub},            // DH(EKa, SPKb)
	} {
		if transcript, err = appendDH(transcript, pair.priv, pair.pub); err != nil {
			return nil, domain.PreKeyMessage{}, err
		}
	}

	msg := domain.PreKeyMessage{
		InitiatorIdentityKey: id.XPub,
		EphemeralKey:         ephPub,
		SignedPreKeyID:       spk.ID,
	}
	if opk, ok := bundle.FirstOneTimePreKey(); ok {
		if transcript, err = appendDH(transcript, ephPriv, opk.Pub); err != nil { // DH(EKa, OPKb)
			return nil, domain.PreKeyMessage{}, err
		}
		opkID := opk.ID
		msg.OneTimePreKeyID = &opkID
	}

	root, err := deriveRoot(transcript)
	if err != nil {
		return nil, domain.PreKeyMessage{}, err
	}
	return root, msg, nil
}

// ResponderRoot recomputes the root key from the initiator's PreKeyMessage.
// opkPriv must be non-nil exactly when msg names a one-time pre-key.
func ResponderRoot(
	id domain.Identity,
	spkPriv domain.X25519Private,
	opkPriv *domain.X25519Private,
	msg domain.PreKeyMessage,
) ([]byte, error) {
	if msg.OneTimePreKeyID != nil && opkPriv == nil {
		return nil, ErrMissingOneTimePreKey
	}

	var err error
	transcript := make([]byte, 0, 32*4)
	for _, pair := range []struct {
		priv domain.X25519Private
		pub  domain.X25519Public
	}{
		{spkPriv, msg.InitiatorIdentityKey}, // DH(SPKb, IKa)
		{id.XPriv, msg.EphemeralKey},        // DH(IKb, EKa)
		{spkPriv, msg.EphemeralKey},         // DH(SPKb, EKa)
	} {
		if transcript, err = appendDH(transcript, pair.priv, pair.pub); err != nil {
			return nil, err
		}
	}
	if msg.OneTimePreKeyID != nil {
		if transcript, err = appendDH(transcript, *opkPriv, msg.EphemeralKey); err != nil { // DH(OPKb, EKa)
			return nil, err
		}
	}
	return deriveRoot(transcript)
}

// VerifySignedPreKey checks the signed pre-key signature.
func VerifySignedPreKey(edPub domain.Ed25519Public, spk domain.X25519Public, sig []byte) bool {
	return crypto.VerifyEd25519(edPub, spk.Slice(), sig)
}

func appendDH(dst []byte, priv domain.X25519Private, pub domain.X25519Public) ([]byte, error) {
	shared, err := crypto.DH(priv, pub)
	if err != nil {
		return dst, errors.Wrap(err, "x3dh: dh")
	}
	dst = append(dst, shared[:]...)
	memzero.Zero(shared[:])
	return dst, nil
}

func deriveRoot(transcript []byte) ([]byte, error) {
	defer memzero.Zero(transcript)
	root := make([]byte, rootKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, transcript, nil, hkdfInfo), root); err != nil {
		return nil, errors.Wrap(err, "x3dh: hkdf")
	}
	return root, nil
}

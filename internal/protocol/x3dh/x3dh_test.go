package x3dh_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/protocol/x3dh"
)

func makeIdentity(t *testing.T) domain.Identity {
	t.Helper()
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	return id
}

// makeBundle returns Bob's bundle plus the private halves of its pre-keys.
func makeBundle(t *testing.T, bob domain.Identity, withOPK bool) (domain.PreKeyBundle, domain.X25519Private, *domain.X25519Private) {
	t.Helper()
	spkPriv, spkPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	bundle := domain.PreKeyBundle{
		Address:     domain.DeviceAddress{UserID: "bob", DeviceID: "phone"},
		IdentityKey: bob.XPub,
		SigningKey:  bob.EdPub,
		SignedPreKey: domain.SignedPreKeyPublic{
			ID:        1,
			Pub:       spkPub,
			Signature: crypto.SignEd25519(bob.EdPriv, spkPub[:]),
		},
	}
	if !withOPK {
		return bundle, spkPriv, nil
	}
	opkPriv, opkPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	bundle.OneTimePreKeys = []domain.OneTimePreKeyPublic{{ID: 7, Pub: opkPub}}
	return bundle, spkPriv, &opkPriv
}

func TestInitiatorAndResponderRoot_NoOneTimePreKey(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	bundle, spkPriv, _ := makeBundle(t, bob, false)

	rootInitiator, msg, err := x3dh.InitiatorRoot(alice, bundle)
	require.NoError(t, err)
	assert.Equal(t, domain.SignedPreKeyID(1), msg.SignedPreKeyID)
	assert.Nil(t, msg.OneTimePreKeyID)
	assert.Equal(t, alice.XPub, msg.InitiatorIdentityKey)

	rootResponder, err := x3dh.ResponderRoot(bob, spkPriv, nil, msg)
	require.NoError(t, err)
	assert.Equal(t, rootInitiator, rootResponder)
}

func TestInitiatorAndResponderRoot_WithOneTimePreKey(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	bundle, spkPriv, opkPriv := makeBundle(t, bob, true)

	rootInitiator, msg, err := x3dh.InitiatorRoot(alice, bundle)
	require.NoError(t, err)
	require.NotNil(t, msg.OneTimePreKeyID)
	assert.Equal(t, domain.OneTimePreKeyID(7), *msg.OneTimePreKeyID)

	rootResponder, err := x3dh.ResponderRoot(bob, spkPriv, opkPriv, msg)
	require.NoError(t, err)
	assert.Equal(t, rootInitiator, rootResponder)

	_, err = x3dh.ResponderRoot(bob, spkPriv, nil, msg)
	assert.ErrorIs(t, err, x3dh.ErrMissingOneTimePreKey)
}

func TestInitiatorRoot_RejectsBadSignature(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	bundle, _, _ := makeBundle(t, bob, false)
	bundle.SignedPreKey.Signature[0] ^= 0xff

	_, _, err := x3dh.InitiatorRoot(alice, bundle)
	assert.ErrorIs(t, err, x3dh.ErrBadSignedPreKey)
}

func TestInitiatorRoot_RejectsForeignSigner(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	mallory := makeIdentity(t)
	bundle, _, _ := makeBundle(t, bob, false)
	bundle.SigningKey = mallory.EdPub

	_, _, err := x3dh.InitiatorRoot(alice, bundle)
	assert.ErrorIs(t, err, x3dh.ErrBadSignedPreKey)
}

package prekey_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/services/prekey"
	"cipherroom/internal/testutil"
)

func TestRegistrationCarriesSignedKeys(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	dev := net.StartDevice(t, "alice", "a1")

	reg, err := dev.PreKeys.Registration(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), reg.UserID)
	assert.Equal(t, domain.DeviceID("a1"), reg.DeviceID)
	assert.Equal(t, dev.Self.RegistrationID, reg.RegistrationID)
	assert.Equal(t, prekey.InitialSignedPreKeyID, reg.SignedPreKey.KeyID)
	require.Len(t, reg.OneTimePreKeys, prekey.DefaultOneTimePreKeys)
	assert.Equal(t, domain.OneTimePreKeyID(1), reg.OneTimePreKeys[0].KeyID)

	var signer domain.Ed25519Public
	copy(signer[:], reg.SigningPublicKey)
	assert.True(t, crypto.VerifyEd25519(signer, reg.SignedPreKey.PublicKey, reg.SignedPreKey.Signature))
}

func TestGenerateKeepsSignedPreKey(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	dev := net.StartDevice(t, "alice", "a1")

	before, err := dev.PreKeys.Registration(ctx)
	require.NoError(t, err)
	require.NoError(t, dev.PreKeys.Generate(ctx, dev.Self, 2))
	after, err := dev.PreKeys.Registration(ctx)
	require.NoError(t, err)

	assert.Equal(t, before.SignedPreKey, after.SignedPreKey)
	assert.Len(t, after.OneTimePreKeys, len(before.OneTimePreKeys)+2)
}

func TestReplenish(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	dev := net.StartDevice(t, "alice", "a1")

	added, err := dev.PreKeys.Replenish(ctx, 5, 10)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Zero(t, dev.Relay.PublishKeysCalls())

	added, err = dev.PreKeys.Replenish(ctx, 20, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, added)
	assert.Equal(t, 1, dev.Relay.PublishKeysCalls())

	list, err := dev.Keys.ListOneTimePreKeys(ctx)
	require.NoError(t, err)
	require.Len(t, list, 15)
	assert.Equal(t, domain.OneTimePreKeyID(15), list[len(list)-1].ID)
	assert.Equal(t, 15, net.Registry.RemainingOneTimePreKeys(dev.Address()))
}

func TestRegistrationWithoutIdentity(t *testing.T) {
	net := testutil.NewNetwork(t)
	dev := net.NewDevice(t, "alice", "a1")
	_, err := dev.PreKeys.Registration(context.Background())
	require.Error(t, err)
}

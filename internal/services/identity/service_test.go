package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherroom/internal/domain"
	"cipherroom/internal/services/identity"
	"cipherroom/internal/testutil"
)

func TestEnsureIdentityIsIdempotent(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	dev := net.NewDevice(t, "alice", "a1")

	first, err := dev.Identity.EnsureIdentity(ctx, "alice", "a1", "laptop")
	require.NoError(t, err)
	assert.True(t, first.Published)
	assert.Equal(t, 1, dev.Relay.PublishKeysCalls())

	second, err := dev.Identity.EnsureIdentity(ctx, "alice", "a1", "laptop")
	require.NoError(t, err)
	assert.Equal(t, first.Keys, second.Keys)
	assert.Equal(t, 1, dev.Relay.PublishKeysCalls())

	fp1, err := dev.Identity.Fingerprint(ctx)
	require.NoError(t, err)
	fp2, err := dev.Identity.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
	assert.Regexp(t, `^[0-9a-f]{4}( [0-9a-f]{4}){4}$`, string(fp1))

	bundles, err := net.Client().FetchDevices(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, first.Keys.XPub, bundles[0].IdentityKey)
}

func TestPublishFailureIsFatalAndRetried(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	dev := net.NewDevice(t, "alice", "a1")

	dev.Relay.FailPublishKeys(errors.New("directory down"))
	_, err := dev.Identity.EnsureIdentity(ctx, "alice", "a1", "laptop")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSetupFailure)
	assert.True(t, domain.IsFatal(err))

	stored, ok, err := dev.Keys.LoadIdentity(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, stored.Published)

	bundles, err := net.Client().FetchDevices(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, bundles)

	dev.Relay.FailPublishKeys(nil)
	id, err := dev.Identity.EnsureIdentity(ctx, "alice", "a1", "laptop")
	require.NoError(t, err)
	assert.True(t, id.Published)
	assert.Equal(t, stored.Keys, id.Keys)
	assert.Equal(t, 2, dev.Relay.PublishKeysCalls())

	bundles, err = net.Client().FetchDevices(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, bundles, 1)
}

func TestEnsureIdentityRejectsOtherDevice(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	dev := net.StartDevice(t, "alice", "a1")

	_, err := dev.Identity.EnsureIdentity(ctx, "alice", "a2", "phone")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrIdentityMismatch)
	assert.True(t, domain.IsFatal(err))

	_, err = dev.Identity.EnsureIdentity(ctx, "", "a1", "")
	assert.ErrorIs(t, err, domain.ErrSetupFailure)
}

func TestFingerprintWithoutIdentity(t *testing.T) {
	net := testutil.NewNetwork(t)
	dev := net.NewDevice(t, "alice", "a1")
	_, err := dev.Identity.Fingerprint(context.Background())
	assert.ErrorIs(t, err, domain.ErrSetupFailure)
}

func TestCheckPassphrase(t *testing.T) {
	for _, p := range []string{"", "short1!A", "alllowercase-123", "NoDigitsHere!!", "NoSymbols12345"} {
		assert.ErrorIs(t, identity.CheckPassphrase(p), identity.ErrWeakPassphrase, p)
	}
	assert.NoError(t, identity.CheckPassphrase(testutil.Passphrase))
}

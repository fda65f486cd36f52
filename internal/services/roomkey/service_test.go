package roomkey_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherroom/internal/domain"
	"cipherroom/internal/services/prekey"
	"cipherroom/internal/testutil"
)

const room = domain.RoomID("room-1")

func TestDistributeToEveryDevice(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob1 := net.StartDevice(t, "bob", "b1")
	bob2 := net.StartDevice(t, "bob", "b2")

	assert.Equal(t, domain.RoomNoKey, alice.RoomKeys.State(room))
	dist, err := alice.RoomKeys.DistributeNewKey(ctx, room, []domain.UserID{"bob"})
	require.NoError(t, err)
	assert.Equal(t, domain.KeyVersion(1), dist.Version)
	assert.Empty(t, dist.Failures())
	assert.ElementsMatch(t,
		[]domain.DeviceAddress{alice.Address(), bob1.Address(), bob2.Address()},
		dist.Delivered())
	assert.Equal(t, domain.RoomDistributed, alice.RoomKeys.State(room))

	rec, err := net.Client().FetchRoomKey(ctx, room, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyVersion(1), rec.Version)
	assert.Equal(t, alice.Address(), rec.Sender)
	entries := 0
	for _, m := range rec.Members {
		entries += len(m.EncryptedSecretKeys)
	}
	assert.Equal(t, 3, entries)

	own, err := alice.RoomKeys.ResolveKey(ctx, room, 1)
	require.NoError(t, err)
	for _, dev := range []*testutil.Device{bob1, bob2} {
		got, err := dev.RoomKeys.ResolveKey(ctx, room, 1)
		require.NoError(t, err)
		assert.Equal(t, own.Secret, got.Secret)
		assert.Equal(t, alice.Address(), got.Distributor)
	}
}

func TestResolveFetchesOnceThenServesLocally(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	_, err := alice.RoomKeys.DistributeNewKey(ctx, room, []domain.UserID{"bob"})
	require.NoError(t, err)

	v, err := bob.RoomKeys.ResolveLatestVersion(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyVersion(1), v)
	assert.Equal(t, 1, bob.Relay.FetchRoomKeyCalls())
	assert.Equal(t, domain.RoomCached, bob.RoomKeys.State(room))

	_, err = bob.RoomKeys.ResolveKey(ctx, room, 1)
	require.NoError(t, err)
	_, err = bob.RoomKeys.ResolveLatestVersion(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 1, bob.Relay.FetchRoomKeyCalls())

	// The distributor never fetches its own key.
	_, err = alice.RoomKeys.ResolveKey(ctx, room, 1)
	require.NoError(t, err)
	assert.Zero(t, alice.Relay.FetchRoomKeyCalls())
}

func TestConcurrentResolveSharesOneFetch(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	_, err := alice.RoomKeys.DistributeNewKey(ctx, room, []domain.UserID{"bob"})
	require.NoError(t, err)

	keys := make([]domain.RoomKey, 8)
	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = bob.RoomKeys.ResolveKey(ctx, room, 1)
		}(i)
	}
	wg.Wait()
	for i := range keys {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0].Secret, keys[i].Secret)
	}
	assert.Equal(t, 1, bob.Relay.FetchRoomKeyCalls())
}

func TestRotationKeepsOldVersionsResolvable(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	_, err := alice.RoomKeys.DistributeNewKey(ctx, room, []domain.UserID{"bob"})
	require.NoError(t, err)
	dist, err := alice.RoomKeys.DistributeNewKey(ctx, room, []domain.UserID{"bob"})
	require.NoError(t, err)
	assert.Equal(t, domain.KeyVersion(2), dist.Version)

	// Newest first, so the second prekey envelope bootstraps the session.
	v, err := bob.RoomKeys.ResolveLatestVersion(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyVersion(2), v)
	k2, err := bob.RoomKeys.ResolveKey(ctx, room, 2)
	require.NoError(t, err)
	k1, err := bob.RoomKeys.ResolveKey(ctx, room, 1)
	require.NoError(t, err)
	assert.NotEqual(t, k1.Secret, k2.Secret)

	a1, err := alice.RoomKeys.ResolveKey(ctx, room, 1)
	require.NoError(t, err)
	assert.Equal(t, a1.Secret, k1.Secret)

	// Resolving an older version never moves the active version back.
	v, err = bob.RoomKeys.ResolveLatestVersion(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyVersion(2), v)
}

func TestRotationsReuseSessionsAndSpareOneTimePreKeys(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	const rotations = 10
	for i := 1; i <= rotations; i++ {
		dist, err := alice.RoomKeys.DistributeNewKey(ctx, room, []domain.UserID{"bob"})
		require.NoError(t, err)
		require.Equal(t, domain.KeyVersion(i), dist.Version)
		require.Empty(t, dist.Failures())
	}
	assert.Equal(t, 1, alice.Relay.BundleFetches("bob"))
	assert.Equal(t, prekey.DefaultOneTimePreKeys-1, net.Registry.RemainingOneTimePreKeys(bob.Address()))

	// Newest first, then the rest in order: every older version stays reachable.
	v, err := bob.RoomKeys.ResolveLatestVersion(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyVersion(rotations), v)
	for i := 1; i < rotations; i++ {
		k, err := bob.RoomKeys.ResolveKey(ctx, room, domain.KeyVersion(i))
		require.NoError(t, err)
		own, err := alice.RoomKeys.ResolveKey(ctx, room, domain.KeyVersion(i))
		require.NoError(t, err)
		assert.Equal(t, own.Secret, k.Secret)
	}

	local, err := bob.Keys.ListOneTimePreKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, local, net.Registry.RemainingOneTimePreKeys(bob.Address()))
}

func TestMemberWithoutDevicesIsReported(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	dist, err := alice.RoomKeys.DistributeNewKey(ctx, room, []domain.UserID{"bob", "carol"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.DeviceAddress{alice.Address(), bob.Address()}, dist.Delivered())

	failures := dist.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, domain.UserID("carol"), failures[0].Address.UserID)
	assert.ErrorIs(t, failures[0].Err, domain.ErrPeerUnavailable)
	assert.False(t, domain.IsFatal(failures[0].Err))

	_, err = bob.RoomKeys.ResolveKey(ctx, room, 1)
	require.NoError(t, err)
}

func TestPublishConflictDoesNotAdvanceLatest(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")

	// Another distributor already took version 1.
	require.NoError(t, net.Client().PublishRoomKey(ctx, room, domain.RoomKeyUpload{
		Version: 1,
		Sender:  domain.DeviceAddress{UserID: "mallory", DeviceID: "m1"},
	}))

	_, err := alice.RoomKeys.DistributeNewKey(ctx, room, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, domain.RoomNoKey, alice.RoomKeys.State(room))
	_, ok, err := alice.Keys.LatestRoomKeyVersion(ctx, room)
	require.NoError(t, err)
	assert.False(t, ok)

	dist, err := alice.RoomKeys.DistributeNewKey(ctx, room, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyVersion(2), dist.Version)
}

func TestResolveErrors(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")
	carol := net.StartDevice(t, "carol", "c1")

	_, err := bob.RoomKeys.ResolveKey(ctx, room, 0)
	assert.ErrorIs(t, err, domain.ErrKeyUnavailable)

	_, err = bob.RoomKeys.ResolveKey(ctx, room, 1)
	assert.ErrorIs(t, err, domain.ErrKeyUnavailable)
	assert.Equal(t, domain.RoomNoKey, bob.RoomKeys.State(room))

	_, err = alice.RoomKeys.DistributeNewKey(ctx, room, []domain.UserID{"bob"})
	require.NoError(t, err)

	// Carol is not a member, so the record has no entry for her device.
	_, err = carol.RoomKeys.ResolveKey(ctx, room, 1)
	assert.ErrorIs(t, err, domain.ErrKeyUnavailable)
	_, err = carol.RoomKeys.ResolveLatestVersion(ctx, room)
	assert.ErrorIs(t, err, domain.ErrKeyUnavailable)
}

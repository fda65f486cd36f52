package session_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherroom/internal/domain"
	"cipherroom/internal/services/session"
	"cipherroom/internal/testutil"
)

func TestHandshakeRoundTrip(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	require.NoError(t, alice.Sessions.EnsureSession(ctx, bob.Address()))
	ok, err := alice.Sessions.HasSession(ctx, bob.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	env, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("hello bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopePreKey, env.Type)
	require.NotNil(t, env.PreKey)

	pt, err := bob.Sessions.DecryptFrom(ctx, alice.Address(), env)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(pt))

	reply, err := bob.Sessions.EncryptTo(ctx, alice.Address(), []byte("hi alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopeWhisper, reply.Type)

	pt, err = alice.Sessions.DecryptFrom(ctx, bob.Address(), reply)
	require.NoError(t, err)
	assert.Equal(t, "hi alice", string(pt))

	// The reply confirmed the handshake.
	next, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopeWhisper, next.Type)
	pt, err = bob.Sessions.DecryptFrom(ctx, alice.Address(), next)
	require.NoError(t, err)
	assert.Equal(t, "again", string(pt))
}

func TestOneTimePreKeyRemovedAfterFirstDecrypt(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	before, err := bob.Keys.ListOneTimePreKeys(ctx)
	require.NoError(t, err)

	require.NoError(t, alice.Sessions.EnsureSession(ctx, bob.Address()))
	env, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("one"))
	require.NoError(t, err)
	require.NotNil(t, env.PreKey.OneTimePreKeyID)
	used := *env.PreKey.OneTimePreKeyID

	// Still held until a message opens.
	_, ok, err := bob.Keys.LoadOneTimePreKey(ctx, used)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = bob.Sessions.DecryptFrom(ctx, alice.Address(), env)
	require.NoError(t, err)

	_, ok, err = bob.Keys.LoadOneTimePreKey(ctx, used)
	require.NoError(t, err)
	assert.False(t, ok)
	after, err := bob.Keys.ListOneTimePreKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before)-1)

	// A second prekey envelope on the same handshake still opens.
	env2, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopePreKey, env2.Type)
	pt, err := bob.Sessions.DecryptFrom(ctx, alice.Address(), env2)
	require.NoError(t, err)
	assert.Equal(t, "two", string(pt))
}

func TestConcurrentEnsureSessionFetchesOnce(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = alice.Sessions.EnsureSession(ctx, bob.Address())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, alice.Relay.BundleFetches("bob"))
}

func TestSimultaneousInitiationConverges(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	require.NoError(t, alice.Sessions.EnsureSession(ctx, bob.Address()))
	require.NoError(t, bob.Sessions.EnsureSession(ctx, alice.Address()))

	fromAlice, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("from alice"))
	require.NoError(t, err)
	fromBob, err := bob.Sessions.EncryptTo(ctx, alice.Address(), []byte("from bob"))
	require.NoError(t, err)

	pt, err := bob.Sessions.DecryptFrom(ctx, alice.Address(), fromAlice)
	require.NoError(t, err)
	assert.Equal(t, "from alice", string(pt))
	pt, err = alice.Sessions.DecryptFrom(ctx, bob.Address(), fromBob)
	require.NoError(t, err)
	assert.Equal(t, "from bob", string(pt))

	for i := 0; i < 3; i++ {
		a, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("ping"))
		require.NoError(t, err)
		pt, err := bob.Sessions.DecryptFrom(ctx, alice.Address(), a)
		require.NoError(t, err, "round %d", i)
		assert.Equal(t, "ping", string(pt))

		b, err := bob.Sessions.EncryptTo(ctx, alice.Address(), []byte("pong"))
		require.NoError(t, err)
		pt, err = alice.Sessions.DecryptFrom(ctx, bob.Address(), b)
		require.NoError(t, err, "round %d", i)
		assert.Equal(t, "pong", string(pt))
	}
}

func TestEncryptWithoutSession(t *testing.T) {
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")

	_, err := alice.Sessions.EncryptTo(context.Background(), domain.DeviceAddress{UserID: "bob", DeviceID: "b1"}, []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrHandshakeFailure)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestEnsureSessionErrors(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	net.StartDevice(t, "bob", "b1")

	err := alice.Sessions.EnsureSession(ctx, domain.DeviceAddress{UserID: "carol", DeviceID: "c1"})
	assert.ErrorIs(t, err, domain.ErrPeerUnavailable)

	err = alice.Sessions.EnsureSession(ctx, domain.DeviceAddress{UserID: "bob", DeviceID: "b9"})
	assert.ErrorIs(t, err, domain.ErrHandshakeFailure)
	assert.ErrorIs(t, err, session.ErrDeviceNotFound)
}

func TestDecryptFailuresLeaveStateIntact(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	require.NoError(t, alice.Sessions.EnsureSession(ctx, bob.Address()))
	env, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("first"))
	require.NoError(t, err)
	_, err = bob.Sessions.DecryptFrom(ctx, alice.Address(), env)
	require.NoError(t, err)

	good, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("second"))
	require.NoError(t, err)

	tampered := good
	tampered.Ciphertext = append([]byte(nil), good.Ciphertext...)
	tampered.Ciphertext[len(tampered.Ciphertext)-1] ^= 0xff
	_, err = bob.Sessions.DecryptFrom(ctx, alice.Address(), tampered)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailure)

	malformed := good
	malformed.Header.DiffieHellmanPublicKey = []byte{1, 2, 3}
	_, err = bob.Sessions.DecryptFrom(ctx, alice.Address(), malformed)
	assert.ErrorIs(t, err, domain.ErrMalformedCiphertext)

	pt, err := bob.Sessions.DecryptFrom(ctx, alice.Address(), good)
	require.NoError(t, err)
	assert.Equal(t, "second", string(pt))
}

func TestOutOfOrderEnvelopesAcrossPersistedState(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	require.NoError(t, alice.Sessions.EnsureSession(ctx, bob.Address()))
	var early []domain.CipherEnvelope
	for _, p := range []string{"p0", "p1"} {
		env, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte(p))
		require.NoError(t, err)
		require.Equal(t, domain.EnvelopePreKey, env.Type)
		early = append(early, env)
	}
	// Both prekey envelopes arrive reversed; each decrypt is a store round trip.
	for _, i := range []int{1, 0} {
		pt, err := bob.Sessions.DecryptFrom(ctx, alice.Address(), early[i])
		require.NoError(t, err)
		assert.Equal(t, []string{"p0", "p1"}[i], string(pt))
	}

	reply, err := bob.Sessions.EncryptTo(ctx, alice.Address(), []byte("ack"))
	require.NoError(t, err)
	_, err = alice.Sessions.DecryptFrom(ctx, bob.Address(), reply)
	require.NoError(t, err)

	var late []domain.CipherEnvelope
	for _, p := range []string{"w0", "w1", "w2"} {
		env, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte(p))
		require.NoError(t, err)
		require.Equal(t, domain.EnvelopeWhisper, env.Type)
		late = append(late, env)
	}
	for _, i := range []int{2, 0, 1} {
		pt, err := bob.Sessions.DecryptFrom(ctx, alice.Address(), late[i])
		require.NoError(t, err)
		assert.Equal(t, []string{"w0", "w1", "w2"}[i], string(pt))
	}

	// A replay after its skipped key was used fails without harming the session.
	_, err = bob.Sessions.DecryptFrom(ctx, alice.Address(), late[0])
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailure)
	next, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("w3"))
	require.NoError(t, err)
	pt, err := bob.Sessions.DecryptFrom(ctx, alice.Address(), next)
	require.NoError(t, err)
	assert.Equal(t, "w3", string(pt))
}

func TestEnsureSessionWithBundleSkipsDirectory(t *testing.T) {
	ctx := context.Background()
	net := testutil.NewNetwork(t)
	alice := net.StartDevice(t, "alice", "a1")
	bob := net.StartDevice(t, "bob", "b1")

	bundle, err := net.Client().FetchDevice(ctx, bob.Address())
	require.NoError(t, err)
	require.NoError(t, alice.Sessions.EnsureSessionWithBundle(ctx, bundle))
	require.NoError(t, alice.Sessions.EnsureSessionWithBundle(ctx, bundle))
	require.NoError(t, alice.Sessions.EnsureSession(ctx, bob.Address()))
	assert.Zero(t, alice.Relay.BundleFetches("bob"))

	env, err := alice.Sessions.EncryptTo(ctx, bob.Address(), []byte("hi"))
	require.NoError(t, err)
	pt, err := bob.Sessions.DecryptFrom(ctx, alice.Address(), env)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(pt))
}

package ratchet_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/protocol/ratchet"
)

// makeIdentity returns a fresh X25519 identity pair.
func makeIdentity(t *testing.T) (priv domain.X25519Private, pub domain.X25519Public) {
	t.Helper()
	p, P, err := crypto.GenerateX25519()
	require.NoError(t, err)
	return p, P
}

// pair returns an initiator state for A and the matching responder state for B.
func pair(t *testing.T) (a, b domain.RatchetState) {
	t.Helper()
	rk := bytes.Repeat([]byte{0x42}, 32)
	bPriv, bPub := makeIdentity(t)

	a, err := ratchet.InitAsInitiator(rk, bPub)
	require.NoError(t, err)
	b, err = ratchet.InitAsResponder(rk, bPriv, a.DiffieHellmanPublic)
	require.NoError(t, err)
	return a, b
}

func TestDoubleRatchet_OneRoundTrip(t *testing.T) {
	aState, bState := pair(t)

	header, ct, err := ratchet.Encrypt(&aState, nil, []byte("hi"))
	require.NoError(t, err)
	pt, err := ratchet.Decrypt(&bState, nil, header, ct)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(pt))
}

func TestDoubleRatchet_PingPong(t *testing.T) {
	aState, bState := pair(t)
	ad := []byte("ad")

	for i := 0; i < 4; i++ {
		h, ct, err := ratchet.Encrypt(&aState, ad, []byte("from a"))
		require.NoError(t, err)
		pt, err := ratchet.Decrypt(&bState, ad, h, ct)
		require.NoError(t, err)
		assert.Equal(t, "from a", string(pt))

		h, ct, err = ratchet.Encrypt(&bState, ad, []byte("from b"))
		require.NoError(t, err)
		pt, err = ratchet.Decrypt(&aState, ad, h, ct)
		require.NoError(t, err)
		assert.Equal(t, "from b", string(pt))
	}
}

func TestDoubleRatchet_OutOfOrder(t *testing.T) {
	aState, bState := pair(t)

	type msg struct {
		h  domain.RatchetHeader
		ct []byte
	}
	var sent []msg
	for _, p := range []string{"one", "two", "three"} {
		h, ct, err := ratchet.Encrypt(&aState, nil, []byte(p))
		require.NoError(t, err)
		sent = append(sent, msg{h, ct})
	}

	pt, err := ratchet.Decrypt(&bState, nil, sent[2].h, sent[2].ct)
	require.NoError(t, err)
	assert.Equal(t, "three", string(pt))

	pt, err = ratchet.Decrypt(&bState, nil, sent[0].h, sent[0].ct)
	require.NoError(t, err)
	assert.Equal(t, "one", string(pt))

	pt, err = ratchet.Decrypt(&bState, nil, sent[1].h, sent[1].ct)
	require.NoError(t, err)
	assert.Equal(t, "two", string(pt))
}

func TestDoubleRatchet_RejectsTamperedAD(t *testing.T) {
	aState, bState := pair(t)

	h, ct, err := ratchet.Encrypt(&aState, []byte("ad-1"), []byte("hi"))
	require.NoError(t, err)
	_, err = ratchet.Decrypt(&bState, []byte("ad-2"), h, ct)
	assert.Error(t, err)
}

func TestDoubleRatchet_RejectsShortHeaderKey(t *testing.T) {
	_, bState := pair(t)
	_, err := ratchet.Decrypt(&bState, nil, domain.RatchetHeader{DiffieHellmanPublicKey: []byte{1}}, []byte("x"))
	assert.Error(t, err)
}

// persist round-trips st through JSON the way the key store saves sessions.
func persist(t *testing.T, st domain.RatchetState) domain.RatchetState {
	t.Helper()
	b, err := json.Marshal(st)
	require.NoError(t, err)
	var out domain.RatchetState
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestDoubleRatchet_SkippedKeysSurvivePersistence(t *testing.T) {
	aState, bState := pair(t)

	h0, ct0, err := ratchet.Encrypt(&aState, nil, []byte("zero"))
	require.NoError(t, err)
	h1, ct1, err := ratchet.Encrypt(&aState, nil, []byte("one"))
	require.NoError(t, err)

	pt, err := ratchet.Decrypt(&bState, nil, h1, ct1)
	require.NoError(t, err)
	assert.Equal(t, "one", string(pt))
	require.Len(t, bState.SkippedKeys, 1)

	bState = persist(t, bState)
	pt, err = ratchet.Decrypt(&bState, nil, h0, ct0)
	require.NoError(t, err)
	assert.Equal(t, "zero", string(pt))
	assert.Empty(t, bState.SkippedKeys)
}

func TestDoubleRatchet_SkippedKeysSurvivePersistenceAcrossDHStep(t *testing.T) {
	aState, bState := pair(t)

	h, ct, err := ratchet.Encrypt(&aState, nil, []byte("hello"))
	require.NoError(t, err)
	_, err = ratchet.Decrypt(&bState, nil, h, ct)
	require.NoError(t, err)
	h, ct, err = ratchet.Encrypt(&bState, nil, []byte("reply"))
	require.NoError(t, err)
	_, err = ratchet.Decrypt(&aState, nil, h, ct)
	require.NoError(t, err)

	// a's second chain: deliver the last message first.
	var hs []domain.RatchetHeader
	var cts [][]byte
	for _, p := range []string{"x", "y", "z"} {
		h, ct, err := ratchet.Encrypt(&aState, nil, []byte(p))
		require.NoError(t, err)
		hs, cts = append(hs, h), append(cts, ct)
	}
	_, err = ratchet.Decrypt(&bState, nil, hs[2], cts[2])
	require.NoError(t, err)

	for _, i := range []int{1, 0} {
		bState = persist(t, bState)
		pt, err := ratchet.Decrypt(&bState, nil, hs[i], cts[i])
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y", "z"}[i], string(pt))
	}
}

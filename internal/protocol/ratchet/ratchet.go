package ratchet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/util/memzero"
)

const (
	aeadKeySize  = 32
	nonceSize    = chacha20poly1305.NonceSize
	maxSkippedMK = 1000
)

var (
	ErrSkippedKeyNotFound = errors.New("skipped message key not found")
	ErrTooManySkipped     = errors.New("too many skipped messages")
	errChainUninitialised = errors.New("ratchet chain key is uninitialised")
	errBadHeader          = errors.New("ratchet header public key must be 32 bytes")
)

// InitAsInitiator derives the first sending chain from root and a DH between
// a fresh ratchet key and the responder's identity key.
func InitAsInitiator(root []byte, peerIdentity domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}

	dh, err := crypto.DH(priv, peerIdentity)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRK, sendCK := rootStep(root, dh[:])
	memzero.Zero(dh[:])

	return domain.RatchetState{
		RootKey:                 newRK,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: peerIdentity, // replaced by the first ratchet key we receive
		SendChainKey:            sendCK,
		SkippedKeys:             make(map[string][]byte),
	}, nil
}

// InitAsResponder mirrors InitAsInitiator: the receiving chain comes from our
// identity key and the initiator's ratchet key. Sending starts on first Encrypt.
func InitAsResponder(root []byte, ourIDPriv domain.X25519Private, senderRatchetPub domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}

	dh, err := crypto.DH(ourIDPriv, senderRatchetPub)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRK, recvCK := rootStep(root, dh[:])
	memzero.Zero(dh[:])

	return domain.RatchetState{
		RootKey:                 newRK,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: senderRatchetPub,
		ReceiveChainKey:         recvCK,
		SkippedKeys:             make(map[string][]byte),
	}, nil
}

// Encrypt seals plaintext under the next sending key. A responder that has
// not sent yet performs its DH step here.
func Encrypt(st *domain.RatchetState, ad, plaintext []byte) (domain.RatchetHeader, []byte, error) {
	if len(st.SendChainKey) == 0 {
		st.PreviousChainLength = st.SendMessageIndex
		st.SendMessageIndex = 0

		newPriv, newPub, err := crypto.GenerateX25519()
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		dh, err := crypto.DH(newPriv, st.PeerDiffieHellmanPublic)
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		rk2, sendCK := rootStep(st.RootKey, dh[:])
		memzero.Zero(dh[:])

		st.RootKey = rk2
		st.DiffieHellmanPrivate, st.DiffieHellmanPublic = newPriv, newPub
		st.SendChainKey = sendCK
	}

	mk, err := chainStep(&st.SendChainKey)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	h := domain.RatchetHeader{
		DiffieHellmanPublicKey: st.DiffieHellmanPublic.Slice(),
		PreviousChainLength:    st.PreviousChainLength,
		MessageIndex:           st.SendMessageIndex,
	}

	ct, err := seal(mk, h, ad, plaintext)
	memzero.Zero(mk)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	st.SendMessageIndex++
	return h, ct, nil
}

// Decrypt opens a message, consuming a stored skipped key when one matches
// and stepping the DH ratchet when the header carries a new peer key.
// On error st may be partially advanced; callers decrypt on a clone.
func Decrypt(st *domain.RatchetState, ad []byte, header domain.RatchetHeader, ciphertext []byte) ([]byte, error) {
	if len(header.DiffieHellmanPublicKey) != domain.CurveKeySize {
		return nil, errBadHeader
	}
	if st.SkippedKeys == nil {
		st.SkippedKeys = make(map[string][]byte)
	}
	var peer domain.X25519Public
	copy(peer[:], header.DiffieHellmanPublicKey)

	if peer == st.PeerDiffieHellmanPublic {
		keyID := skippedKey(peer, header.MessageIndex)
		if mk, ok := st.SkippedKeys[keyID]; ok {
			delete(st.SkippedKeys, keyID)
			pt, err := open(mk, header, ad, ciphertext)
			memzero.Zero(mk)
			return pt, err
		}
		if header.MessageIndex < st.ReceiveMessageIndex {
			return nil, ErrSkippedKeyNotFound
		}
	} else {
		// Store what remains of the old receiving chain before stepping.
		if err := skipUntil(st, header.PreviousChainLength); err != nil {
			return nil, err
		}

		dh, err := crypto.DH(st.DiffieHellmanPrivate, peer)
		if err != nil {
			return nil, err
		}
		rk2, recvCK := rootStep(st.RootKey, dh[:])
		memzero.Zero(dh[:])

		newPriv, newPub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		dh2, err := crypto.DH(newPriv, peer)
		if err != nil {
			return nil, err
		}
		rk3, sendCK := rootStep(rk2, dh2[:])
		memzero.Zero(dh2[:])

		st.PreviousChainLength = st.SendMessageIndex
		st.SendMessageIndex, st.ReceiveMessageIndex = 0, 0
		st.RootKey = rk3
		st.DiffieHellmanPrivate, st.DiffieHellmanPublic = newPriv, newPub
		st.PeerDiffieHellmanPublic = peer
		st.SendChainKey, st.ReceiveChainKey = sendCK, recvCK
	}

	if err := skipUntil(st, header.MessageIndex); err != nil {
		return nil, err
	}
	mk, err := chainStep(&st.ReceiveChainKey)
	if err != nil {
		return nil, err
	}
	pt, err := open(mk, header, ad, ciphertext)
	memzero.Zero(mk)
	if err != nil {
		return nil, err
	}
	st.ReceiveMessageIndex++
	return pt, nil
}

func seal(mk []byte, h domain.RatchetHeader, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, headerNonce(h), plaintext, headerAD(ad, h)), nil
}

func open(mk []byte, h domain.RatchetHeader, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, headerNonce(h), ciphertext, headerAD(ad, h))
}

// headerNonce is all zeroes except the big-endian message index in the tail.
// Every message key is used exactly once, so the nonce never repeats per key.
func headerNonce(h domain.RatchetHeader) []byte {
	var n [nonceSize]byte
	binary.BigEndian.PutUint32(n[nonceSize-4:], h.MessageIndex)
	return n[:]
}

// headerAD binds the session AD to the cleartext header fields.
func headerAD(ad []byte, h domain.RatchetHeader) []byte {
	var counters [8]byte
	binary.BigEndian.PutUint32(counters[:4], h.PreviousChainLength)
	binary.BigEndian.PutUint32(counters[4:], h.MessageIndex)

	out := make([]byte, 0, len(ad)+len(h.DiffieHellmanPublicKey)+len(counters))
	out = append(out, ad...)
	out = append(out, h.DiffieHellmanPublicKey...)
	return append(out, counters[:]...)
}

// expand2 fills two 32-byte outputs from one HKDF stream.
func expand2(secret, salt []byte, label string) (a, b []byte) {
	out := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(label)), out); err != nil {
		panic("ratchet: hkdf: " + err.Error())
	}
	return out[:32:32], out[32:]
}

// rootStep mixes a DH output into the root key, yielding the next root and a chain key.
func rootStep(rk, dh []byte) (nextRoot, chain []byte) {
	return expand2(dh, rk, "DR|rk")
}

// chainStep advances *ck in place and returns the message key it produced.
func chainStep(ck *[]byte) ([]byte, error) {
	if len(*ck) == 0 {
		return nil, errChainUninitialised
	}
	next, mk := expand2(*ck, nil, "DR|ck")
	memzero.Zero(*ck)
	*ck = next
	return mk, nil
}

// skippedKey is the SkippedKeys map key for message n of peer's chain. It is
// plain text because the map is persisted as a JSON object.
func skippedKey(peer domain.X25519Public, n uint32) string {
	return hex.EncodeToString(peer[:]) + ":" + strconv.FormatUint(uint64(n), 10)
}

// skipUntil stores receiving keys for indices [ReceiveMessageIndex, n).
// A single gap may not exceed maxSkippedMK; the store as a whole is capped
// at the same size by evicting an arbitrary entry.
func skipUntil(st *domain.RatchetState, n uint32) error {
	if len(st.ReceiveChainKey) == 0 || n <= st.ReceiveMessageIndex {
		return nil
	}
	if n-st.ReceiveMessageIndex > maxSkippedMK {
		return ErrTooManySkipped
	}
	for ; st.ReceiveMessageIndex < n; st.ReceiveMessageIndex++ {
		mk, err := chainStep(&st.ReceiveChainKey)
		if err != nil {
			return err
		}
		if len(st.SkippedKeys) >= maxSkippedMK {
			for k, old := range st.SkippedKeys {
				memzero.Zero(old)
				delete(st.SkippedKeys, k)
				break
			}
		}
		st.SkippedKeys[skippedKey(st.PeerDiffieHellmanPublic, st.ReceiveMessageIndex)] = mk
	}
	return nil
}

package store

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"cipherroom/internal/crypto"
	"cipherroom/internal/util/memzero"
)

const (
	// The current supported version of the sealed store parameters.
	keystoreFormatVersion = 1

	metaParamsKey = "_meta/kdf"
	metaCanaryKey = "_meta/canary"
	canaryValue   = "cipherroom sealed store"
)

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// stored canary has been modified / corrupted.
var ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted store")

// kdfParams is the JSON record holding the salt and scrypt parameters.
type kdfParams struct {
	V    int    `json:"v"`
	Salt []byte `json:"salt"`
	N    int    `json:"scrypt_N"`
	R    int    `json:"scrypt_r"`
	P    int    `json:"scrypt_p"`
}

// SealedKV encrypts every value with a key derived once from a passphrase.
// The key name is bound as associated data so values cannot be swapped.
type SealedKV struct {
	kv  KV
	key []byte
}

// SealedOption tunes Sealed.
type SealedOption func(*kdfParams)

// WithScryptCost overrides the scrypt N parameter used for a new store.
// Existing stores keep the parameters they were created with.
func WithScryptCost(n int) SealedOption {
	return func(p *kdfParams) { p.N = n }
}

// Sealed opens (or initialises) a sealed view of kv. A new store gets a fresh
// salt and canary; an existing one is checked against its canary so a wrong
// passphrase fails here rather than on the first read.
func Sealed(kv KV, passphrase string, opts ...SealedOption) (*SealedKV, error) {
	params, fresh, err := loadParams(kv, opts)
	if err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), params.Salt, params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "derive store key")
	}
	s := &SealedKV{kv: kv, key: key}

	if fresh {
		if err := s.Put(metaCanaryKey, []byte(canaryValue)); err != nil {
			return nil, err
		}
		return s, nil
	}
	got, err := s.Get(metaCanaryKey)
	if err != nil {
		if IsNotFound(err) {
			return nil, errors.Wrap(ErrWrongPassphrase, "canary missing")
		}
		return nil, err
	}
	if string(got) != canaryValue {
		return nil, ErrWrongPassphrase
	}
	return s, nil
}

func loadParams(kv KV, opts []SealedOption) (kdfParams, bool, error) {
	raw, err := kv.Get(metaParamsKey)
	if err == nil {
		var p kdfParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return kdfParams{}, false, errors.Wrap(err, "decode kdf params")
		}
		if p.V > keystoreFormatVersion {
			return kdfParams{}, false, fmt.Errorf("unsupported keystore version %d", p.V)
		}
		return p, false, nil
	}
	if !IsNotFound(err) {
		return kdfParams{}, false, err
	}

	salt, err := crypto.RandomBytes(16)
	if err != nil {
		return kdfParams{}, false, err
	}
	N, r, p := scryptParamsDefault()
	params := kdfParams{V: keystoreFormatVersion, Salt: salt, N: N, R: r, P: p}
	for _, o := range opts {
		o(&params)
	}
	b, err := json.Marshal(params)
	if err != nil {
		return kdfParams{}, false, err
	}
	if err := kv.Put(metaParamsKey, b); err != nil {
		return kdfParams{}, false, err
	}
	return params, true, nil
}

func (s *SealedKV) Get(key string) ([]byte, error) {
	sealed, err := s.kv.Get(key)
	if err != nil {
		return nil, err
	}
	pt, err := crypto.Open(s.key, sealed, []byte(key))
	if err != nil {
		return nil, errors.Wrapf(ErrWrongPassphrase, "open %q", key)
	}
	return pt, nil
}

func (s *SealedKV) Put(key string, value []byte) error {
	sealed, err := crypto.Seal(s.key, value, []byte(key))
	if err != nil {
		return errors.Wrapf(err, "seal %q", key)
	}
	return s.kv.Put(key, sealed)
}

func (s *SealedKV) Delete(key string) error { return s.kv.Delete(key) }

// Close wipes the derived key. The underlying KV is left open.
func (s *SealedKV) Close() { memzero.Zero(s.key) }

// Tunables for scrypt key derivation.
func scryptParamsDefault() (N, r, p int) { return 1 << 15, 8, 1 }

var _ KV = (*SealedKV)(nil)

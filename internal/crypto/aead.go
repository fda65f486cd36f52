package crypto

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeyBytes   = chacha20poly1305.KeySize
	NonceBytes = chacha20poly1305.NonceSize
	TagBytes   = chacha20poly1305.Overhead
)

// ErrSealedTooShort is returned by Open when the input cannot hold a nonce and tag.
var ErrSealedTooShort = errors.New("sealed value too short")

// Seal encrypts plaintext under key and returns nonce ‖ ciphertext ‖ tag.
// A fresh random nonce is drawn for every call.
func Seal(key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "init aead")
	}
	out := make([]byte, NonceBytes, NonceBytes+len(plaintext)+TagBytes)
	if _, err := rand.Read(out); err != nil {
		return nil, errors.Wrap(err, "read nonce")
	}
	return aead.Seal(out, out[:NonceBytes], plaintext, ad), nil
}

// Open reverses Seal.
func Open(key, sealed, ad []byte) ([]byte, error) {
	if len(sealed) < NonceBytes+TagBytes {
		return nil, ErrSealedTooShort
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "init aead")
	}
	return aead.Open(nil, sealed[:NonceBytes], sealed[NonceBytes:], ad)
}

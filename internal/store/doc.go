// Package store provides the local key store of a cipherroom device.
//
// Storage is layered:
//   - KV backends hold raw bytes: MemoryKV, FileKV (one atomically written
//     file per key) and BadgerKV.
//   - Namespace prefixes keys so several users can share a backend.
//   - Sealed encrypts every value with a passphrase-derived key (scrypt +
//     chacha20poly1305) and rejects a wrong passphrase at open time.
//   - KeyStore implements the domain store interfaces on top as JSON
//     records: identity, signed and one-time pre-keys, sessions and
//     versioned room keys.
//
// All types are safe for concurrent use.
package store

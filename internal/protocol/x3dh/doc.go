// Package x3dh derives the root key that seeds a Double Ratchet session.
//
// The responder publishes a PreKeyBundle: an X25519 identity key, an Ed25519
// signing key, a signed pre-key and optionally one-time pre-keys.
//
// InitiatorRoot checks the signed pre-key signature against the signing key,
// draws an ephemeral key and mixes IKa·SPKb, EKa·IKb, EKa·SPKb and, when the
// bundle offers one, EKa·OPKb through HKDF. The returned PreKeyMessage names
// the pre-keys used and carries the ephemeral public key.
//
// ResponderRoot computes the mirrored set from the local private keys and the
// PreKeyMessage and arrives at the same root. The caller looks up the named
// pre-keys and decides when a one-time pre-key is deleted; the session service
// does so only after the first message opens.
//
// ErrBadSignedPreKey and ErrMissingOneTimePreKey report the two handshake
// errors callers act on; anything else wraps a primitive failure.
package x3dh

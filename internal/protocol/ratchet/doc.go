// Package ratchet is the Double Ratchet used by pairwise sessions.
//
// A RatchetState holds a root key plus send and receive chain keys. Every
// message advances its chain through HKDF, and a new peer ratchet key in a
// header triggers a Diffie-Hellman step that re-derives both chains from the
// root. Keys for messages that arrive early are kept in SkippedKeys, at most
// maxSkippedMK per gap.
//
// Encrypt and Decrypt mutate the state they are given and are not safe for
// concurrent use. The session service decrypts on a clone and only persists
// the clone when the message opened.
package ratchet

// Package session establishes and uses pairwise sessions with remote devices.
//
// A session is created by X3DH (internal/protocol/x3dh) and carried forward by
// the Double Ratchet (internal/protocol/ratchet). Each stored record holds the
// current ratchet state and a few archived ones, so that two devices that
// start a session with each other at the same time still converge.
package session

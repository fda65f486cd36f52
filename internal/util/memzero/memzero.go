// Package memzero wipes secret material once it is no longer needed.
package memzero

import "runtime"

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}

// Value resets *p to its zero value, for fixed-size keys held by value
// (e.g. domain.X25519Private or domain.RoomSecret).
func Value[T any](p *T) {
	if p == nil {
		return
	}
	var zero T
	*p = zero
	runtime.KeepAlive(p)
}

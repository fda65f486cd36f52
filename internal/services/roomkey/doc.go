// Package roomkey creates, distributes and resolves the symmetric keys of rooms.
//
// Each rotation produces a new immutable version. The secret is encrypted once
// per member device through its pairwise session and published as a single
// record; the distributor's own device gets a self-sealed entry so it can
// recover the key from the record like any other member. Older versions stay
// resolvable so history encrypted under them can still be read.
package roomkey

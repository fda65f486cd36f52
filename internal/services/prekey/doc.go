// Package prekey manages signed pre-keys and one-time pre-keys for X3DH bootstrap.
//
// It creates the device's signed pre-key, mints one-time pre-keys with
// never-reused ids, builds the directory registration and replenishes the
// one-time pool when it runs low.
package prekey

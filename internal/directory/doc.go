// Package directory is an in-memory reference implementation of the key
// directory and room-key HTTP services the client talks to.
//
// It hands out each one-time pre-key at most once and refuses to overwrite a
// room key version that already exists. Nothing is persisted; it exists for
// local development and tests.
package directory

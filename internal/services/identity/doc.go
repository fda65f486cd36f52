// Package identity manages creation, persistence and publication of the local
// device identity.
//
// EnsureIdentity is idempotent: a device that has already published keeps its
// keys, and a device whose publish failed retries it on the next call.
package identity

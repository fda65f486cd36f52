// Package relay provides an HTTP implementation of the domain.RelayClient
// interface used by cipherroom.
//
// The backend has two halves: a key directory, where devices publish their
// identity and pre-keys and fetch each other's bundles, and a room-key
// service, where encrypted room key records are uploaded and downloaded by
// version.
//
// All requests are JSON over HTTP and accept a context for cancellation and
// deadlines. 404 maps to domain.ErrRecordNotFound and 409 to
// domain.ErrVersionConflict; other non-2xx statuses are returned as errors
// with the method, path and status text to aid diagnostics.
package relay

package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how the caller should react to them.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindSetupFailure is fatal: the device cannot participate until fixed.
	KindSetupFailure
	// KindPeerUnavailable means a member has no registered devices.
	KindPeerUnavailable
	// KindHandshakeFailure means no session could be built or used.
	KindHandshakeFailure
	// KindKeyUnavailable means a room key version cannot be obtained locally.
	KindKeyUnavailable
	// KindMalformedCiphertext means the input failed structural validation.
	KindMalformedCiphertext
	// KindAuthenticationFailure means an AEAD tag did not verify.
	KindAuthenticationFailure
)

func (k Kind) String() string {
	switch k {
	case KindSetupFailure:
		return "setup failure"
	case KindPeerUnavailable:
		return "peer unavailable"
	case KindHandshakeFailure:
		return "handshake failure"
	case KindKeyUnavailable:
		return "key unavailable"
	case KindMalformedCiphertext:
		return "malformed ciphertext"
	case KindAuthenticationFailure:
		return "authentication failure"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the services. Op names the operation
// that failed; Err is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Sentinels for errors.Is.
var (
	ErrSetupFailure          = &Error{Kind: KindSetupFailure}
	ErrPeerUnavailable       = &Error{Kind: KindPeerUnavailable}
	ErrHandshakeFailure      = &Error{Kind: KindHandshakeFailure}
	ErrKeyUnavailable        = &Error{Kind: KindKeyUnavailable}
	ErrMalformedCiphertext   = &Error{Kind: KindMalformedCiphertext}
	ErrAuthenticationFailure = &Error{Kind: KindAuthenticationFailure}
)

// E builds an *Error. A nil cause is allowed.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must abort the caller's flow. Only setup
// failures are fatal; everything else is reported per device or per message.
func IsFatal(err error) bool {
	return KindOf(err) == KindSetupFailure
}

// Transport-level sentinels shared by the relay client and the directory service.
var (
	// ErrRecordNotFound means the directory has no such user or room key record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrVersionConflict means a room key version was already published.
	ErrVersionConflict = errors.New("room key version already published")
)

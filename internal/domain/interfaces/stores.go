package interfaces

import (
	"context"

	domaintypes "cipherroom/internal/domain/types"
)

// IdentityStore persists the local device identity.
type IdentityStore interface {
	SaveIdentity(ctx context.Context, id domaintypes.DeviceIdentity) error
	LoadIdentity(ctx context.Context) (domaintypes.DeviceIdentity, bool, error)
}

// PreKeyStore manages signed and one-time pre-keys.
type PreKeyStore interface {
	// Signed pre-key
	SaveSignedPreKey(ctx context.Context, pair domaintypes.SignedPreKeyPair) error
	LoadSignedPreKey(
		ctx context.Context,
		id domaintypes.SignedPreKeyID,
	) (domaintypes.SignedPreKeyPair, bool, error)
	SetCurrentSignedPreKeyID(ctx context.Context, id domaintypes.SignedPreKeyID) error
	CurrentSignedPreKeyID(ctx context.Context) (domaintypes.SignedPreKeyID, bool, error)

	// One-time pre-keys
	ReserveOneTimePreKeyIDs(ctx context.Context, n int) (domaintypes.OneTimePreKeyID, error)
	SaveOneTimePreKeys(ctx context.Context, pairs []domaintypes.OneTimePreKeyPair) error
	LoadOneTimePreKey(
		ctx context.Context,
		id domaintypes.OneTimePreKeyID,
	) (domaintypes.OneTimePreKeyPair, bool, error)
	RemoveOneTimePreKey(ctx context.Context, id domaintypes.OneTimePreKeyID) error
	ListOneTimePreKeys(ctx context.Context) ([]domaintypes.OneTimePreKeyPublic, error)
}

// SessionStore persists pairwise session records keyed by device address.
type SessionStore interface {
	SaveSession(ctx context.Context, s domaintypes.Session) error
	LoadSession(
		ctx context.Context,
		peer domaintypes.DeviceAddress,
	) (domaintypes.Session, bool, error)
	DeleteSession(ctx context.Context, peer domaintypes.DeviceAddress) error
}

// RoomKeyStore persists versioned room keys. A stored version is immutable.
type RoomKeyStore interface {
	SaveRoomKey(ctx context.Context, key domaintypes.RoomKey) error
	LoadRoomKey(
		ctx context.Context,
		room domaintypes.RoomID,
		version domaintypes.KeyVersion,
	) (domaintypes.RoomKey, bool, error)
	RoomKeyVersions(ctx context.Context, room domaintypes.RoomID) ([]domaintypes.KeyVersion, error)
	LatestRoomKeyVersion(ctx context.Context, room domaintypes.RoomID) (domaintypes.KeyVersion, bool, error)
	// SetLatestRoomKeyVersion only ever moves the pointer forward.
	SetLatestRoomKeyVersion(
		ctx context.Context,
		room domaintypes.RoomID,
		version domaintypes.KeyVersion,
	) error
}

// KeyStore is the full local key store of one signed-in user.
type KeyStore interface {
	IdentityStore
	PreKeyStore
	SessionStore
	RoomKeyStore
}

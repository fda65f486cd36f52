package interfaces

import (
	"context"

	domaintypes "cipherroom/internal/domain/types"
)

// IdentityService creates and publishes the local device identity.
type IdentityService interface {
	EnsureIdentity(
		ctx context.Context,
		user domaintypes.UserID,
		device domaintypes.DeviceID,
		deviceName string,
	) (domaintypes.DeviceIdentity, error)
	Fingerprint(ctx context.Context) (domaintypes.Fingerprint, error)
}

// PreKeyService generates, publishes and replenishes pre-keys.
type PreKeyService interface {
	Generate(ctx context.Context, id domaintypes.DeviceIdentity, count int) error
	Registration(ctx context.Context) (domaintypes.KeyRegistration, error)
	Publish(ctx context.Context) error
	Replenish(ctx context.Context, threshold, batch int) (int, error)
}

// SessionService manages pairwise sessions with remote devices.
type SessionService interface {
	EnsureSession(ctx context.Context, peer domaintypes.DeviceAddress) error
	EnsureSessionWithBundle(ctx context.Context, bundle domaintypes.PreKeyBundle) error
	HasSession(ctx context.Context, peer domaintypes.DeviceAddress) (bool, error)
	EncryptTo(
		ctx context.Context,
		peer domaintypes.DeviceAddress,
		plaintext []byte,
	) (domaintypes.CipherEnvelope, error)
	DecryptFrom(
		ctx context.Context,
		peer domaintypes.DeviceAddress,
		env domaintypes.CipherEnvelope,
	) ([]byte, error)
}

// RoomKeyService creates, distributes and resolves room keys.
type RoomKeyService interface {
	DistributeNewKey(
		ctx context.Context,
		room domaintypes.RoomID,
		members []domaintypes.UserID,
	) (domaintypes.Distribution, error)
	ResolveKey(
		ctx context.Context,
		room domaintypes.RoomID,
		version domaintypes.KeyVersion,
	) (domaintypes.RoomKey, error)
	ResolveLatestVersion(ctx context.Context, room domaintypes.RoomID) (domaintypes.KeyVersion, error)
	State(room domaintypes.RoomID) domaintypes.RoomState
}

// MessageService encrypts and decrypts room messages.
type MessageService interface {
	Encrypt(
		ctx context.Context,
		room domaintypes.RoomID,
		plaintext string,
	) (domaintypes.EncryptedMessage, error)
	Decrypt(
		ctx context.Context,
		room domaintypes.RoomID,
		version domaintypes.KeyVersion,
		content string,
	) (string, error)
}

package interfaces

import (
	"context"

	domaintypes "cipherroom/internal/domain/types"
)

// DirectoryClient publishes and fetches device key material.
type DirectoryClient interface {
	PublishKeys(ctx context.Context, reg domaintypes.KeyRegistration) error
	// FetchDevices returns a validated bundle per registered device of user.
	// An unknown user yields an empty slice and no error.
	FetchDevices(ctx context.Context, user domaintypes.UserID) ([]domaintypes.PreKeyBundle, error)
	// ListDevices returns the device addresses of user without consuming
	// one-time pre-keys. An unknown user yields an empty slice and no error.
	ListDevices(ctx context.Context, user domaintypes.UserID) ([]domaintypes.DeviceAddress, error)
	// FetchDevice returns the bundle of one device, consuming at most one
	// one-time pre-key.
	FetchDevice(ctx context.Context, addr domaintypes.DeviceAddress) (domaintypes.PreKeyBundle, error)
}

// RoomKeyClient uploads and downloads encrypted room key records.
type RoomKeyClient interface {
	PublishRoomKey(ctx context.Context, room domaintypes.RoomID, upload domaintypes.RoomKeyUpload) error
	// FetchRoomKey fetches the record of version, or the latest when version is 0.
	FetchRoomKey(
		ctx context.Context,
		room domaintypes.RoomID,
		version domaintypes.KeyVersion,
	) (domaintypes.RoomKeyRecord, error)
}

// RelayClient is everything the client needs from the backend.
type RelayClient interface {
	DirectoryClient
	RoomKeyClient
}

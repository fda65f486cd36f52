package types

// Wire shapes for the directory and room-key services. Byte slices travel as
// standard base64 strings.

// WireSignedPreKey is a signed pre-key as published.
type WireSignedPreKey struct {
	KeyID     SignedPreKeyID `json:"keyId"`
	PublicKey []byte         `json:"publicKey"`
	Signature []byte         `json:"signature"`
}

// WireOneTimePreKey is a one-time pre-key as published.
type WireOneTimePreKey struct {
	KeyID     OneTimePreKeyID `json:"keyId"`
	PublicKey []byte          `json:"publicKey"`
}

// KeyRegistration is the body of POST /keys.
type KeyRegistration struct {
	UserID            UserID              `json:"userId"`
	DeviceID          DeviceID            `json:"deviceId"`
	DeviceName        string              `json:"deviceName"`
	IdentityPublicKey []byte              `json:"identityPublicKey"`
	SigningPublicKey  []byte              `json:"signingPublicKey"`
	SignedPreKey      WireSignedPreKey    `json:"signedPreKey"`
	OneTimePreKeys    []WireOneTimePreKey `json:"oneTimePreKeys"`
	RegistrationID    RegistrationID      `json:"registrationId"`
}

// WireDevice is one device entry of GET /keys/{userId} and the body of
// GET /keys/{userId}/{deviceId}.
type WireDevice struct {
	DeviceID          DeviceID            `json:"deviceId"`
	DeviceName        string              `json:"deviceName,omitempty"`
	RegistrationID    RegistrationID      `json:"registrationId"`
	IdentityPublicKey []byte              `json:"identityPublicKey"`
	SigningPublicKey  []byte              `json:"signingPublicKey"`
	SignedPreKey      WireSignedPreKey    `json:"signedPreKey"`
	OneTimePreKeys    []WireOneTimePreKey `json:"oneTimePreKeys"`
}

// UserKeys is the response of GET /keys/{userId}.
type UserKeys struct {
	Devices []WireDevice `json:"devices"`
}

// DeviceList is the response of GET /devices/{userId}. It carries no key material.
type DeviceList struct {
	UserID  UserID     `json:"userId"`
	Devices []DeviceID `json:"devices"`
}

// EncryptedDeviceKey is a room secret encrypted for one device.
type EncryptedDeviceKey struct {
	DeviceID DeviceID `json:"deviceId"`
	Key      []byte   `json:"key"`
}

// MemberKeys groups the encrypted secrets of one member's devices.
type MemberKeys struct {
	UserID              UserID               `json:"userId"`
	EncryptedSecretKeys []EncryptedDeviceKey `json:"encryptedSecretKeys"`
}

// RoomKeyUpload is the body of POST /room/{roomId}/shared-key.
type RoomKeyUpload struct {
	Version       KeyVersion    `json:"version"`
	Sender        DeviceAddress `json:"sender"`
	EncryptedKeys []MemberKeys  `json:"encryptedKeys"`
}

// RoomKeyRecord is the response of GET /room/{roomId}/shared-key[/{version}].
type RoomKeyRecord struct {
	RoomID  RoomID        `json:"roomId"`
	Version KeyVersion    `json:"version"`
	Sender  DeviceAddress `json:"sender"`
	Members []MemberKeys  `json:"members"`
}

// EntryFor returns the encrypted secret addressed to addr.
func (r RoomKeyRecord) EntryFor(addr DeviceAddress) ([]byte, bool) {
	for _, m := range r.Members {
		if m.UserID != addr.UserID {
			continue
		}
		for _, k := range m.EncryptedSecretKeys {
			if k.DeviceID == addr.DeviceID {
				return k.Key, true
			}
		}
	}
	return nil, false
}

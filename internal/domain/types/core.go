package types

// UserID identifies an account registered with the directory service.
type UserID string

// String returns the string form of the user id.
func (u UserID) String() string { return string(u) }

// DeviceID identifies one of a user's devices.
type DeviceID string

// String returns the string form of the device id.
func (d DeviceID) String() string { return string(d) }

// RoomID identifies a chat room.
type RoomID string

// String returns the string form of the room id.
func (r RoomID) String() string { return string(r) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// SignedPreKeyID uniquely identifies a signed pre-key of one device.
type SignedPreKeyID uint32

// OneTimePreKeyID uniquely identifies a one-time pre-key of one device.
type OneTimePreKeyID uint32

// RegistrationID is the random, stable integer a device picks at setup.
type RegistrationID uint32

// KeyVersion numbers the keys of a room. The first key is version 1; zero
// means "no version".
type KeyVersion uint32

// DeviceAddress identifies one endpoint of a pairwise session.
type DeviceAddress struct {
	UserID   UserID   `json:"userId"`
	DeviceID DeviceID `json:"deviceId"`
}

// String renders the address as user.device.
func (a DeviceAddress) String() string {
	return string(a.UserID) + "." + string(a.DeviceID)
}

// IsZero reports whether either half of the address is missing.
func (a DeviceAddress) IsZero() bool { return a.UserID == "" || a.DeviceID == "" }

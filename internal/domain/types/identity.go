package types

// Identity holds the long-term X25519 and Ed25519 keys of a device.
type Identity struct {
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`
}

// DeviceIdentity is the persisted identity material of the local device.
type DeviceIdentity struct {
	UserID         UserID         `json:"user_id"`
	DeviceID       DeviceID       `json:"device_id"`
	DeviceName     string         `json:"device_name"`
	Keys           Identity       `json:"keys"`
	RegistrationID RegistrationID `json:"registration_id"`
	Published      bool           `json:"published"`
	CreatedUTC     int64          `json:"created_utc"`
}

// Address returns the device address of this identity.
func (d DeviceIdentity) Address() DeviceAddress {
	return DeviceAddress{UserID: d.UserID, DeviceID: d.DeviceID}
}

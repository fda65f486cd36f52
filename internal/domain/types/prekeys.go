package types

// SignedPreKeyPair is the full (private+public) signed pre-key stored locally.
type SignedPreKeyPair struct {
	ID         SignedPreKeyID `json:"id"`
	Priv       X25519Private  `json:"priv"`
	Pub        X25519Public   `json:"pub"`
	Signature  []byte         `json:"signature"`
	CreatedUTC int64          `json:"created_utc"`
}

// Public drops the private half.
func (p SignedPreKeyPair) Public() SignedPreKeyPublic {
	return SignedPreKeyPublic{ID: p.ID, Pub: p.Pub, Signature: append([]byte(nil), p.Signature...)}
}

// SignedPreKeyPublic is the published half of a signed pre-key.
type SignedPreKeyPublic struct {
	ID        SignedPreKeyID `json:"id"`
	Pub       X25519Public   `json:"pub"`
	Signature []byte         `json:"signature"`
}

// OneTimePreKeyPair is the full (private+public) one-time pre-key stored locally.
type OneTimePreKeyPair struct {
	ID   OneTimePreKeyID `json:"id"`
	Priv X25519Private   `json:"priv"`
	Pub  X25519Public    `json:"pub"`
}

// OneTimePreKeyPublic is only the public half (sent in bundles).
type OneTimePreKeyPublic struct {
	ID  OneTimePreKeyID `json:"id"`
	Pub X25519Public    `json:"pub"`
}

// PreKeyBundle is the validated public key material of one remote device.
// OneTimePreKeys may be empty once the directory has handed them all out.
type PreKeyBundle struct {
	Address        DeviceAddress         `json:"address"`
	DeviceName     string                `json:"device_name,omitempty"`
	RegistrationID RegistrationID        `json:"registration_id"`
	IdentityKey    X25519Public          `json:"identity_key"`
	SigningKey     Ed25519Public         `json:"signing_key"`
	SignedPreKey   SignedPreKeyPublic    `json:"signed_pre_key"`
	OneTimePreKeys []OneTimePreKeyPublic `json:"one_time_pre_keys,omitempty"`
}

// FirstOneTimePreKey returns the first offered one-time pre-key, if any.
func (b PreKeyBundle) FirstOneTimePreKey() (OneTimePreKeyPublic, bool) {
	if len(b.OneTimePreKeys) == 0 {
		return OneTimePreKeyPublic{}, false
	}
	return b.OneTimePreKeys[0], true
}

// PreKeyMessage carries the X3DH handshake parameters on every envelope an
// initiator sends until the responder answers.
type PreKeyMessage struct {
	RegistrationID       RegistrationID   `json:"registration_id"`
	InitiatorIdentityKey X25519Public     `json:"initiator_identity_key"`
	EphemeralKey         X25519Public     `json:"ephemeral_key"`
	SignedPreKeyID       SignedPreKeyID   `json:"signed_pre_key_id"`
	OneTimePreKeyID      *OneTimePreKeyID `json:"one_time_pre_key_id,omitempty"`
}

// Clone returns a deep copy.
func (m PreKeyMessage) Clone() PreKeyMessage {
	if m.OneTimePreKeyID != nil {
		id := *m.OneTimePreKeyID
		m.OneTimePreKeyID = &id
	}
	return m
}

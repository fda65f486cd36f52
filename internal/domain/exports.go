package domain

import (
	interfaces "cipherroom/internal/domain/interfaces"
	types "cipherroom/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID              = types.UserID
	DeviceID            = types.DeviceID
	RoomID              = types.RoomID
	Fingerprint         = types.Fingerprint
	SignedPreKeyID      = types.SignedPreKeyID
	OneTimePreKeyID     = types.OneTimePreKeyID
	RegistrationID      = types.RegistrationID
	KeyVersion          = types.KeyVersion
	DeviceAddress       = types.DeviceAddress
	Identity            = types.Identity
	DeviceIdentity      = types.DeviceIdentity
	SignedPreKeyPair    = types.SignedPreKeyPair
	SignedPreKeyPublic  = types.SignedPreKeyPublic
	OneTimePreKeyPair   = types.OneTimePreKeyPair
	OneTimePreKeyPublic = types.OneTimePreKeyPublic
	PreKeyBundle        = types.PreKeyBundle
	PreKeyMessage       = types.PreKeyMessage
	RatchetHeader       = types.RatchetHeader
	RatchetState        = types.RatchetState
	SessionState        = types.SessionState
	Session             = types.Session
	EnvelopeType        = types.EnvelopeType
	CipherEnvelope      = types.CipherEnvelope
	EncryptedMessage    = types.EncryptedMessage
	DecryptedMessage    = types.DecryptedMessage
	RoomKey             = types.RoomKey
	RoomState           = types.RoomState
	DeviceDelivery      = types.DeviceDelivery
	Distribution        = types.Distribution
	RoomSecret          = types.RoomSecret
	X25519Public        = types.X25519Public
	X25519Private       = types.X25519Private
	Ed25519Public       = types.Ed25519Public
	Ed25519Private      = types.Ed25519Private

	KeyRegistration    = types.KeyRegistration
	WireSignedPreKey   = types.WireSignedPreKey
	WireOneTimePreKey  = types.WireOneTimePreKey
	WireDevice         = types.WireDevice
	UserKeys           = types.UserKeys
	DeviceList         = types.DeviceList
	EncryptedDeviceKey = types.EncryptedDeviceKey
	MemberKeys         = types.MemberKeys
	RoomKeyUpload      = types.RoomKeyUpload
	RoomKeyRecord      = types.RoomKeyRecord
)

const (
	EnvelopeWhisper = types.EnvelopeWhisper
	EnvelopePreKey  = types.EnvelopePreKey
	EnvelopeSelf    = types.EnvelopeSelf

	RoomNoKey         = types.RoomNoKey
	RoomDistributing  = types.RoomDistributing
	RoomDistributed   = types.RoomDistributed
	RoomAwaitingFetch = types.RoomAwaitingFetch
	RoomCached        = types.RoomCached
	RoomRotating      = types.RoomRotating

	CurveKeySize   = types.CurveKeySize
	SigningKeySize = types.SigningKeySize
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService = interfaces.IdentityService
	PreKeyService   = interfaces.PreKeyService
	SessionService  = interfaces.SessionService
	RoomKeyService  = interfaces.RoomKeyService
	MessageService  = interfaces.MessageService
	DirectoryClient = interfaces.DirectoryClient
	RoomKeyClient   = interfaces.RoomKeyClient
	RelayClient     = interfaces.RelayClient
	IdentityStore   = interfaces.IdentityStore
	PreKeyStore     = interfaces.PreKeyStore
	SessionStore    = interfaces.SessionStore
	RoomKeyStore    = interfaces.RoomKeyStore
	KeyStore        = interfaces.KeyStore
)

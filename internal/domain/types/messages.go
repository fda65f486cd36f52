package types

// EnvelopeType tells the receiver how to open a CipherEnvelope.
type EnvelopeType uint8

const (
	// EnvelopeWhisper is a ratchet message on an established session.
	EnvelopeWhisper EnvelopeType = iota + 1
	// EnvelopePreKey is a ratchet message that also carries X3DH parameters.
	EnvelopePreKey
	// EnvelopeSelf is sealed by the local device for itself.
	EnvelopeSelf
)

// CipherEnvelope is the output of one pairwise encryption.
type CipherEnvelope struct {
	Type       EnvelopeType   `json:"type"`
	Header     RatchetHeader  `json:"header"`
	PreKey     *PreKeyMessage `json:"pre_key,omitempty"`
	Ciphertext []byte         `json:"ciphertext"`
}

// EncryptedMessage is the room message envelope exchanged over the transport.
type EncryptedMessage struct {
	RoomID     RoomID     `json:"roomId"`
	Content    string     `json:"content"`
	KeyVersion KeyVersion `json:"keyVersion"`
	SenderID   UserID     `json:"senderId,omitempty"`
	SentAt     int64      `json:"sentAt,omitempty"`
}

// DecryptedMessage is a successfully opened EncryptedMessage.
type DecryptedMessage struct {
	RoomID     RoomID     `json:"roomId"`
	SenderID   UserID     `json:"senderId,omitempty"`
	KeyVersion KeyVersion `json:"keyVersion"`
	Plaintext  string     `json:"plaintext"`
	SentAt     int64      `json:"sentAt,omitempty"`
}

package types

// Key sizes in bytes.
const (
	CurveKeySize   = 32
	SigningKeySize = 64
)

// Fixed-size key material. Arrays keep JSON encodings stable and make keys
// comparable with ==; Slice hands them to the crypto packages.
type (
	// X25519Public is a Curve25519 public key (identity, prekey or ratchet).
	X25519Public [CurveKeySize]byte
	// X25519Private is the matching private scalar.
	X25519Private [CurveKeySize]byte
	// Ed25519Public verifies signed prekeys.
	Ed25519Public [CurveKeySize]byte
	// Ed25519Private uses the ed25519.PrivateKey layout (seed then public key).
	Ed25519Private [SigningKeySize]byte
	// RoomSecret is the symmetric key shared by every device of a room.
	RoomSecret [CurveKeySize]byte
)

func (k X25519Public) Slice() []byte   { return k[:] }
func (k X25519Private) Slice() []byte  { return k[:] }
func (k Ed25519Public) Slice() []byte  { return k[:] }
func (k Ed25519Private) Slice() []byte { return k[:] }
func (k RoomSecret) Slice() []byte     { return k[:] }

package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"cipherroom/internal/domain"
)

const (
	fingerprintBytes = 10
	fingerprintGroup = 4
)

// Fingerprint renders the first 10 bytes of SHA-256(pub) as hex in groups
// of four, e.g. "3f9a 01c2 77de 5b10 a4e8", for reading aloud.
func Fingerprint(pub []byte) domain.Fingerprint {
	sum := sha256.Sum256(pub)
	h := hex.EncodeToString(sum[:fingerprintBytes])

	var sb strings.Builder
	for i := 0; i < len(h); i += fingerprintGroup {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(h[i : i+fingerprintGroup])
	}
	return domain.Fingerprint(sb.String())
}

// B64 encodes b as standard padded base64, the encoding of message content.
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// FromB64 decodes standard padded base64.
func FromB64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

package relay

import (
	"github.com/pkg/errors"

	"cipherroom/internal/domain"
)

const keyLen = 32

// BundleFromWire validates a device entry of GET /keys/{userId} and converts
// it. At most the first one-time pre-key is kept.
func BundleFromWire(user domain.UserID, d domain.WireDevice) (domain.PreKeyBundle, error) {
	if d.DeviceID == "" {
		return domain.PreKeyBundle{}, errors.New("device id missing")
	}
	b := domain.PreKeyBundle{
		Address:        domain.DeviceAddress{UserID: user, DeviceID: d.DeviceID},
		DeviceName:     d.DeviceName,
		RegistrationID: d.RegistrationID,
	}
	if err := copyKey(b.IdentityKey[:], d.IdentityPublicKey, "identity key"); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if err := copyKey(b.SigningKey[:], d.SigningPublicKey, "signing key"); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if err := copyKey(b.SignedPreKey.Pub[:], d.SignedPreKey.PublicKey, "signed pre-key"); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if len(d.SignedPreKey.Signature) == 0 {
		return domain.PreKeyBundle{}, errors.New("signed pre-key signature missing")
	}
	b.SignedPreKey.ID = d.SignedPreKey.KeyID
	b.SignedPreKey.Signature = append([]byte(nil), d.SignedPreKey.Signature...)

	if len(d.OneTimePreKeys) > 0 {
		k := d.OneTimePreKeys[0]
		opk := domain.OneTimePreKeyPublic{ID: k.KeyID}
		if err := copyKey(opk.Pub[:], k.PublicKey, "one-time pre-key"); err != nil {
			return domain.PreKeyBundle{}, err
		}
		b.OneTimePreKeys = []domain.OneTimePreKeyPublic{opk}
	}
	return b, nil
}

// ValidateRegistration checks the shape of a POST /keys body.
func ValidateRegistration(reg domain.KeyRegistration) error {
	switch {
	case reg.UserID == "":
		return errors.New("userId missing")
	case reg.DeviceID == "":
		return errors.New("deviceId missing")
	case len(reg.IdentityPublicKey) != keyLen:
		return errors.New("identityPublicKey must be 32 bytes")
	case len(reg.SigningPublicKey) != keyLen:
		return errors.New("signingPublicKey must be 32 bytes")
	case len(reg.SignedPreKey.PublicKey) != keyLen:
		return errors.New("signedPreKey.publicKey must be 32 bytes")
	case len(reg.SignedPreKey.Signature) == 0:
		return errors.New("signedPreKey.signature missing")
	}
	for _, k := range reg.OneTimePreKeys {
		if len(k.PublicKey) != keyLen {
			return errors.Errorf("oneTimePreKeys[%d].publicKey must be 32 bytes", k.KeyID)
		}
	}
	return nil
}

func copyKey(dst, src []byte, what string) error {
	if len(src) != keyLen {
		return errors.Errorf("%s must be %d bytes, got %d", what, keyLen, len(src))
	}
	copy(dst, src)
	return nil
}

package identity

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/logging"
	"cipherroom/internal/services/prekey"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrIdentityMismatch is returned when the store already holds another device.
	ErrIdentityMismatch = errors.New("store holds a different device identity")
)

// Service creates, persists and publishes the local device identity.
//
// The identity contains:
//   - X25519 key pair for Diffie-Hellman (X3DH and Double Ratchet).
//   - Ed25519 key pair for signing (for example, signing the Signed Pre-Key).
type Service struct {
	keys    domain.KeyStore
	prekeys domain.PreKeyService
	mu      sync.Mutex
	log     *logrus.Entry
}

// New returns an identity service.
func New(keys domain.KeyStore, prekeys domain.PreKeyService) *Service {
	return &Service{keys: keys, prekeys: prekeys, log: logging.For("identity")}
}

// EnsureIdentity returns the stored identity when it is present and
// published. Otherwise it generates what is missing, persists it and
// publishes it. A failed publish leaves the identity stored unpublished so
// the next call retries without regenerating keys. Every failure is a
// setup failure.
func (s *Service) EnsureIdentity(
	ctx context.Context,
	user domain.UserID,
	device domain.DeviceID,
	deviceName string,
) (domain.DeviceIdentity, error) {
	const op = "identity.EnsureIdentity"
	if user == "" || device == "" {
		return domain.DeviceIdentity{}, domain.E(domain.KindSetupFailure, op, errors.New("user and device are required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.keys.LoadIdentity(ctx)
	if err != nil {
		return domain.DeviceIdentity{}, domain.E(domain.KindSetupFailure, op, err)
	}
	if ok {
		if id.UserID != user || id.DeviceID != device {
			return domain.DeviceIdentity{}, domain.E(domain.KindSetupFailure, op,
				errors.Wrapf(ErrIdentityMismatch, "stored %s, requested %s", id.Address(), domain.DeviceAddress{UserID: user, DeviceID: device}))
		}
		if id.Published {
			return id, nil
		}
		s.log.WithField("device", id.Address().String()).Info("retrying unpublished identity")
		if err := s.prekeys.Generate(ctx, id, 0); err != nil {
			return domain.DeviceIdentity{}, domain.E(domain.KindSetupFailure, op, err)
		}
	} else {
		if id, err = s.generate(ctx, user, device, deviceName); err != nil {
			return domain.DeviceIdentity{}, domain.E(domain.KindSetupFailure, op, err)
		}
	}

	if err := s.prekeys.Publish(ctx); err != nil {
		return domain.DeviceIdentity{}, domain.E(domain.KindSetupFailure, op, err)
	}
	id.Published = true
	if err := s.keys.SaveIdentity(ctx, id); err != nil {
		return domain.DeviceIdentity{}, domain.E(domain.KindSetupFailure, op, err)
	}
	s.log.WithFields(logrus.Fields{
		"device":      id.Address().String(),
		"fingerprint": crypto.Fingerprint(id.Keys.XPub.Slice()),
	}).Info("identity published")
	return id, nil
}

func (s *Service) generate(
	ctx context.Context,
	user domain.UserID,
	device domain.DeviceID,
	deviceName string,
) (domain.DeviceIdentity, error) {
	keys, err := crypto.NewIdentity()
	if err != nil {
		return domain.DeviceIdentity{}, err
	}
	regID, err := crypto.NewRegistrationID()
	if err != nil {
		return domain.DeviceIdentity{}, err
	}
	id := domain.DeviceIdentity{
		UserID:         user,
		DeviceID:       device,
		DeviceName:     deviceName,
		Keys:           keys,
		RegistrationID: regID,
		CreatedUTC:     time.Now().UTC().Unix(),
	}
	if err := s.keys.SaveIdentity(ctx, id); err != nil {
		return domain.DeviceIdentity{}, err
	}
	if err := s.prekeys.Generate(ctx, id, prekey.DefaultOneTimePreKeys); err != nil {
		return domain.DeviceIdentity{}, err
	}
	return id, nil
}

// Fingerprint returns a short fingerprint of the local X25519 public key.
func (s *Service) Fingerprint(ctx context.Context) (domain.Fingerprint, error) {
	id, ok, err := s.keys.LoadIdentity(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.E(domain.KindSetupFailure, "identity.Fingerprint", errors.New("no local identity"))
	}
	return crypto.Fingerprint(id.Keys.XPub.Slice()), nil
}

// CheckPassphrase enforces the store passphrase policy.
func CheckPassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)

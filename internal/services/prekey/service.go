package prekey

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/logging"
)

// DefaultOneTimePreKeys is how many one-time pre-keys a new device publishes.
const DefaultOneTimePreKeys = 10

// InitialSignedPreKeyID is the id of the first signed pre-key.
const InitialSignedPreKeyID domain.SignedPreKeyID = 1

var (
	errNoIdentity     = errors.New("no local identity")
	errNoSignedPreKey = errors.New("no signed pre-key available")
)

// Service manages pre-key pairs and builds the directory registration.
type Service struct {
	keys      domain.KeyStore
	directory domain.DirectoryClient
}

// New returns a pre-key service.
func New(keys domain.KeyStore, directory domain.DirectoryClient) *Service {
	return &Service{keys: keys, directory: directory}
}

// Generate creates the signed pre-key if the device has none yet, plus count
// one-time pre-keys with fresh ids.
func (s *Service) Generate(ctx context.Context, id domain.DeviceIdentity, count int) error {
	if _, ok, err := s.keys.CurrentSignedPreKeyID(ctx); err != nil {
		return err
	} else if !ok {
		if err := s.generateSignedPreKey(ctx, id, InitialSignedPreKeyID); err != nil {
			return err
		}
	}
	if count <= 0 {
		return nil
	}
	return s.generateOneTimePreKeys(ctx, count)
}

func (s *Service) generateSignedPreKey(ctx context.Context, id domain.DeviceIdentity, spkID domain.SignedPreKeyID) error {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return errors.Wrap(err, "generate signed pre-key")
	}
	pair := domain.SignedPreKeyPair{
		ID:         spkID,
		Priv:       priv,
		Pub:        pub,
		Signature:  crypto.SignEd25519(id.Keys.EdPriv, pub[:]),
		CreatedUTC: time.Now().UTC().Unix(),
	}
	if err := s.keys.SaveSignedPreKey(ctx, pair); err != nil {
		return err
	}
	return s.keys.SetCurrentSignedPreKeyID(ctx, spkID)
}

func (s *Service) generateOneTimePreKeys(ctx context.Context, count int) error {
	first, err := s.keys.ReserveOneTimePreKeyIDs(ctx, count)
	if err != nil {
		return err
	}
	pairs := make([]domain.OneTimePreKeyPair, 0, count)
	for i := 0; i < count; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return errors.Wrap(err, "generate one-time pre-key")
		}
		pairs = append(pairs, domain.OneTimePreKeyPair{
			ID:   first + domain.OneTimePreKeyID(i),
			Priv: priv,
			Pub:  pub,
		})
	}
	return s.keys.SaveOneTimePreKeys(ctx, pairs)
}

// Registration builds the POST /keys body from the stored identity, the
// current signed pre-key and every unused one-time pre-key.
func (s *Service) Registration(ctx context.Context) (domain.KeyRegistration, error) {
	id, ok, err := s.keys.LoadIdentity(ctx)
	if err != nil {
		return domain.KeyRegistration{}, err
	}
	if !ok {
		return domain.KeyRegistration{}, errNoIdentity
	}

	spkID, ok, err := s.keys.CurrentSignedPreKeyID(ctx)
	if err != nil {
		return domain.KeyRegistration{}, err
	}
	if !ok {
		return domain.KeyRegistration{}, errNoSignedPreKey
	}
	spk, found, err := s.keys.LoadSignedPreKey(ctx, spkID)
	if err != nil {
		return domain.KeyRegistration{}, err
	}
	if !found {
		return domain.KeyRegistration{}, errNoSignedPreKey
	}

	oneTime, err := s.keys.ListOneTimePreKeys(ctx)
	if err != nil {
		return domain.KeyRegistration{}, err
	}
	wireOPKs := make([]domain.WireOneTimePreKey, 0, len(oneTime))
	for _, k := range oneTime {
		wireOPKs = append(wireOPKs, domain.WireOneTimePreKey{KeyID: k.ID, PublicKey: k.Pub.Slice()})
	}

	return domain.KeyRegistration{
		UserID:            id.UserID,
		DeviceID:          id.DeviceID,
		DeviceName:        id.DeviceName,
		IdentityPublicKey: id.Keys.XPub.Slice(),
		SigningPublicKey:  id.Keys.EdPub.Slice(),
		SignedPreKey: domain.WireSignedPreKey{
			KeyID:     spk.ID,
			PublicKey: spk.Pub.Slice(),
			Signature: spk.Signature,
		},
		OneTimePreKeys: wireOPKs,
		RegistrationID: id.RegistrationID,
	}, nil
}

// Publish uploads the current registration to the directory.
func (s *Service) Publish(ctx context.Context) error {
	reg, err := s.Registration(ctx)
	if err != nil {
		return err
	}
	if err := s.directory.PublishKeys(ctx, reg); err != nil {
		return errors.Wrap(err, "publish keys")
	}
	logging.For("prekey").WithFields(logrus.Fields{
		"device":    domain.DeviceAddress{UserID: reg.UserID, DeviceID: reg.DeviceID}.String(),
		"one_time":  len(reg.OneTimePreKeys),
		"signed_id": reg.SignedPreKey.KeyID,
	}).Info("published keys")
	return nil
}

// Replenish generates batch new one-time pre-keys and republishes when fewer
// than threshold remain locally. It returns how many keys were added.
func (s *Service) Replenish(ctx context.Context, threshold, batch int) (int, error) {
	have, err := s.keys.ListOneTimePreKeys(ctx)
	if err != nil {
		return 0, err
	}
	if len(have) >= threshold || batch <= 0 {
		return 0, nil
	}
	id, ok, err := s.keys.LoadIdentity(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errNoIdentity
	}
	if err := s.Generate(ctx, id, batch); err != nil {
		return 0, err
	}
	if err := s.Publish(ctx); err != nil {
		return batch, err
	}
	return batch, nil
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)

package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/logging"
	"cipherroom/internal/protocol/ratchet"
	"cipherroom/internal/protocol/x3dh"
	"cipherroom/internal/util/keymutex"
	"cipherroom/internal/util/memzero"
)

// maxArchivedStates bounds how many superseded ratchet states a session keeps.
const maxArchivedStates = 4

var (
	// ErrNoSession is returned when a peer device has no stored session.
	ErrNoSession = errors.New("no session with peer")
	// ErrDeviceNotFound is returned when the directory has no bundle for the device.
	ErrDeviceNotFound = errors.New("device not registered")
	// ErrUnknownPreKey is returned when a PreKeyMessage names a pre-key this device does not hold.
	ErrUnknownPreKey = errors.New("pre-key message names an unknown pre-key")
)

// Service builds, stores and uses pairwise sessions.
//
// Every operation on a given device address runs under that address's lock,
// so ratchet state is never advanced by two goroutines at once. Unrelated
// peers never wait on each other.
type Service struct {
	keys      domain.KeyStore
	directory domain.DirectoryClient
	locks     keymutex.Map
	log       *logrus.Entry
}

// New constructs a session service.
func New(keys domain.KeyStore, directory domain.DirectoryClient) *Service {
	return &Service{keys: keys, directory: directory, log: logging.For("session")}
}

// EnsureSession makes sure a session with peer exists, fetching the peer's
// bundle from the directory when it does not. Only that one device's
// one-time pre-key is consumed.
func (s *Service) EnsureSession(ctx context.Context, peer domain.DeviceAddress) error {
	const op = "session.EnsureSession"
	unlock := s.locks.Lock(peer.String())
	defer unlock()

	if ok, err := s.HasSession(ctx, peer); err != nil {
		return domain.E(domain.KindHandshakeFailure, op, err)
	} else if ok {
		return nil
	}

	bundle, err := s.directory.FetchDevice(ctx, peer)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		return s.missingDevice(ctx, op, peer)
	case err != nil:
		return domain.E(domain.KindHandshakeFailure, op, errors.Wrapf(err, "fetch bundle of %s", peer))
	}
	return s.initiateLocked(ctx, bundle)
}

// missingDevice tells a user without devices apart from an unknown device
// of a known user.
func (s *Service) missingDevice(ctx context.Context, op string, peer domain.DeviceAddress) error {
	addrs, err := s.directory.ListDevices(ctx, peer.UserID)
	if err != nil {
		return domain.E(domain.KindHandshakeFailure, op, errors.Wrapf(err, "list devices of %s", peer.UserID))
	}
	if len(addrs) == 0 {
		return domain.E(domain.KindPeerUnavailable, op, errors.Errorf("%s has no registered devices", peer.UserID))
	}
	return domain.E(domain.KindHandshakeFailure, op, errors.Wrap(ErrDeviceNotFound, peer.String()))
}

// EnsureSessionWithBundle is EnsureSession for a bundle the caller already
// holds. An existing session wins and the bundle is ignored.
func (s *Service) EnsureSessionWithBundle(ctx context.Context, bundle domain.PreKeyBundle) error {
	unlock := s.locks.Lock(bundle.Address.String())
	defer unlock()

	if ok, err := s.HasSession(ctx, bundle.Address); err != nil {
		return domain.E(domain.KindHandshakeFailure, "session.EnsureSessionWithBundle", err)
	} else if ok {
		return nil
	}
	return s.initiateLocked(ctx, bundle)
}

// HasSession reports whether a session with peer is stored.
func (s *Service) HasSession(ctx context.Context, peer domain.DeviceAddress) (bool, error) {
	_, ok, err := s.keys.LoadSession(ctx, peer)
	return ok, err
}

// initiateLocked runs X3DH against bundle and stores an initiator state that
// carries the PreKeyMessage until the peer answers. Caller holds the lock.
func (s *Service) initiateLocked(ctx context.Context, bundle domain.PreKeyBundle) error {
	const op = "session.initiate"
	id, err := s.identity(ctx, op)
	if err != nil {
		return err
	}

	root, msg, err := x3dh.InitiatorRoot(id.Keys, bundle)
	if err != nil {
		return domain.E(domain.KindHandshakeFailure, op, errors.Wrap(err, bundle.Address.String()))
	}
	msg.RegistrationID = id.RegistrationID

	rs, err := ratchet.InitAsInitiator(root, bundle.IdentityKey)
	if err != nil {
		return domain.E(domain.KindHandshakeFailure, op, err)
	}
	sess := domain.Session{
		Peer: bundle.Address,
		Current: domain.SessionState{
			Ratchet:         rs,
			BaseKey:         msg.EphemeralKey,
			Initiator:       true,
			PendingPreKey:   &msg,
			PeerIdentityKey: bundle.IdentityKey,
			AssociatedData:  associatedData(id.Keys.XPub, bundle.IdentityKey),
			CreatedUTC:      time.Now().UTC().Unix(),
		},
	}
	if err := s.keys.SaveSession(ctx, sess); err != nil {
		return domain.E(domain.KindHandshakeFailure, op, err)
	}

	s.log.WithFields(logrus.Fields{
		"peer":          bundle.Address.String(),
		"peer_identity": crypto.Fingerprint(bundle.IdentityKey.Slice()),
		"one_time_key":  msg.OneTimePreKeyID != nil,
	}).Debug("session initiated")
	return nil
}

// EncryptTo encrypts plaintext for peer and persists the advanced state.
// Until the peer has replied the envelope is a prekey envelope.
func (s *Service) EncryptTo(ctx context.Context, peer domain.DeviceAddress, plaintext []byte) (domain.CipherEnvelope, error) {
	const op = "session.EncryptTo"
	unlock := s.locks.Lock(peer.String())
	defer unlock()

	sess, ok, err := s.keys.LoadSession(ctx, peer)
	if err != nil {
		return domain.CipherEnvelope{}, domain.E(domain.KindHandshakeFailure, op, err)
	}
	if !ok {
		return domain.CipherEnvelope{}, domain.E(domain.KindHandshakeFailure, op, errors.Wrap(ErrNoSession, peer.String()))
	}

	st := sess.Current.Clone()
	header, ct, err := ratchet.Encrypt(&st.Ratchet, st.AssociatedData, plaintext)
	if err != nil {
		return domain.CipherEnvelope{}, domain.E(domain.KindHandshakeFailure, op, err)
	}
	env := domain.CipherEnvelope{Type: domain.EnvelopeWhisper, Header: header, Ciphertext: ct}
	if st.PendingPreKey != nil {
		pm := st.PendingPreKey.Clone()
		env.Type = domain.EnvelopePreKey
		env.PreKey = &pm
	}

	sess.Current = st
	if err := s.keys.SaveSession(ctx, sess); err != nil {
		return domain.CipherEnvelope{}, domain.E(domain.KindHandshakeFailure, op, err)
	}
	return env, nil
}

// DecryptFrom opens an envelope from peer. Decryption runs on copies of the
// stored states; only a successful attempt is persisted.
func (s *Service) DecryptFrom(ctx context.Context, peer domain.DeviceAddress, env domain.CipherEnvelope) ([]byte, error) {
	const op = "session.DecryptFrom"
	if err := validateEnvelope(env); err != nil {
		return nil, domain.E(domain.KindMalformedCiphertext, op, err)
	}

	unlock := s.locks.Lock(peer.String())
	defer unlock()

	sess, ok, err := s.keys.LoadSession(ctx, peer)
	if err != nil {
		return nil, domain.E(domain.KindHandshakeFailure, op, err)
	}

	if env.Type == domain.EnvelopePreKey && !(ok && hasResponderState(sess, env.PreKey.EphemeralKey)) {
		return s.bootstrapResponder(ctx, peer, sess, ok, env)
	}
	if !ok {
		return nil, domain.E(domain.KindHandshakeFailure, op, errors.Wrap(ErrNoSession, peer.String()))
	}

	pt, updated, err := tryStates(sess, env)
	if err != nil {
		return nil, domain.E(domain.KindAuthenticationFailure, op, err)
	}
	if err := s.keys.SaveSession(ctx, updated); err != nil {
		return nil, domain.E(domain.KindHandshakeFailure, op, err)
	}
	return pt, nil
}

// bootstrapResponder builds a responder state from the PreKeyMessage. The
// named one-time pre-key is removed only after the first message opens.
func (s *Service) bootstrapResponder(
	ctx context.Context,
	peer domain.DeviceAddress,
	sess domain.Session,
	existing bool,
	env domain.CipherEnvelope,
) ([]byte, error) {
	const op = "session.bootstrapResponder"
	msg := *env.PreKey

	id, err := s.identity(ctx, op)
	if err != nil {
		return nil, err
	}
	spk, ok, err := s.keys.LoadSignedPreKey(ctx, msg.SignedPreKeyID)
	if err != nil {
		return nil, domain.E(domain.KindHandshakeFailure, op, err)
	}
	if !ok {
		return nil, domain.E(domain.KindHandshakeFailure, op, errors.Wrapf(ErrUnknownPreKey, "signed pre-key %d", msg.SignedPreKeyID))
	}
	defer memzero.Value(&spk.Priv)
	var opkPriv *domain.X25519Private
	if msg.OneTimePreKeyID != nil {
		opk, ok, err := s.keys.LoadOneTimePreKey(ctx, *msg.OneTimePreKeyID)
		if err != nil {
			return nil, domain.E(domain.KindHandshakeFailure, op, err)
		}
		if !ok {
			return nil, domain.E(domain.KindHandshakeFailure, op, errors.Wrapf(ErrUnknownPreKey, "one-time pre-key %d", *msg.OneTimePreKeyID))
		}
		opkPriv = &opk.Priv
		defer memzero.Value(opkPriv)
	}

	root, err := x3dh.ResponderRoot(id.Keys, spk.Priv, opkPriv, msg)
	if err != nil {
		return nil, domain.E(domain.KindHandshakeFailure, op, err)
	}
	var senderRatchet domain.X25519Public
	copy(senderRatchet[:], env.Header.DiffieHellmanPublicKey)
	rs, err := ratchet.InitAsResponder(root, id.Keys.XPriv, senderRatchet)
	if err != nil {
		return nil, domain.E(domain.KindHandshakeFailure, op, err)
	}
	st := domain.SessionState{
		Ratchet:         rs,
		BaseKey:         msg.EphemeralKey,
		PeerIdentityKey: msg.InitiatorIdentityKey,
		AssociatedData:  associatedData(msg.InitiatorIdentityKey, id.Keys.XPub),
		CreatedUTC:      time.Now().UTC().Unix(),
	}

	pt, err := ratchet.Decrypt(&st.Ratchet, st.AssociatedData, env.Header, env.Ciphertext)
	if err != nil {
		return nil, domain.E(domain.KindAuthenticationFailure, op, err)
	}

	log := s.log.WithFields(logrus.Fields{
		"peer":          peer.String(),
		"peer_identity": crypto.Fingerprint(msg.InitiatorIdentityKey.Slice()),
	})
	if existing && sess.Current.PeerIdentityKey != msg.InitiatorIdentityKey {
		log.Warn("peer identity key changed")
	}

	if existing {
		sess = promote(sess, st)
	} else {
		sess = domain.Session{Peer: peer, Current: st}
	}
	if err := s.keys.SaveSession(ctx, sess); err != nil {
		return nil, domain.E(domain.KindHandshakeFailure, op, err)
	}
	if msg.OneTimePreKeyID != nil {
		if err := s.keys.RemoveOneTimePreKey(ctx, *msg.OneTimePreKeyID); err != nil {
			log.WithError(err).Warn("could not remove used one-time pre-key")
		}
	}
	log.Debug("session accepted")
	return pt, nil
}

func (s *Service) identity(ctx context.Context, op string) (domain.DeviceIdentity, error) {
	id, ok, err := s.keys.LoadIdentity(ctx)
	if err != nil {
		return domain.DeviceIdentity{}, domain.E(domain.KindSetupFailure, op, err)
	}
	if !ok {
		return domain.DeviceIdentity{}, domain.E(domain.KindSetupFailure, op, errors.New("no local identity"))
	}
	return id, nil
}

// tryStates decrypts with the current state, then each archived state, on
// clones. The state that works becomes current.
func tryStates(sess domain.Session, env domain.CipherEnvelope) ([]byte, domain.Session, error) {
	candidates := append([]domain.SessionState{sess.Current}, sess.Archived...)
	var lastErr error
	for i, cand := range candidates {
		st := cand.Clone()
		pt, err := ratchet.Decrypt(&st.Ratchet, st.AssociatedData, env.Header, env.Ciphertext)
		if err != nil {
			lastErr = err
			continue
		}
		// Any reply on an initiator state means the peer has the handshake.
		st.PendingPreKey = nil
		if i == 0 {
			sess.Current = st
			return pt, sess, nil
		}
		rest := make([]domain.SessionState, 0, len(sess.Archived)-1)
		rest = append(rest, sess.Archived[:i-1]...)
		rest = append(rest, sess.Archived[i:]...)
		sess.Archived = rest
		return pt, promote(sess, st), nil
	}
	return nil, sess, errors.Wrap(lastErr, "no session state could decrypt")
}

// promote makes st current and archives the previous current state.
func promote(sess domain.Session, st domain.SessionState) domain.Session {
	archived := make([]domain.SessionState, 0, maxArchivedStates)
	archived = append(archived, sess.Current)
	archived = append(archived, sess.Archived...)
	if len(archived) > maxArchivedStates {
		archived = archived[:maxArchivedStates]
	}
	sess.Current = st
	sess.Archived = archived
	return sess
}

func hasResponderState(sess domain.Session, baseKey domain.X25519Public) bool {
	if !sess.Current.Initiator && sess.Current.BaseKey == baseKey {
		return true
	}
	for _, st := range sess.Archived {
		if !st.Initiator && st.BaseKey == baseKey {
			return true
		}
	}
	return false
}

func validateEnvelope(env domain.CipherEnvelope) error {
	switch env.Type {
	case domain.EnvelopeWhisper:
	case domain.EnvelopePreKey:
		if env.PreKey == nil {
			return errors.New("prekey envelope without pre-key message")
		}
	default:
		return errors.Errorf("unexpected envelope type %d", env.Type)
	}
	if len(env.Header.DiffieHellmanPublicKey) != domain.CurveKeySize {
		return errors.New("ratchet header public key must be 32 bytes")
	}
	if len(env.Ciphertext) == 0 {
		return errors.New("empty ciphertext")
	}
	return nil
}

// associatedData binds both identity keys, initiator first.
func associatedData(initiator, responder domain.X25519Public) []byte {
	ad := make([]byte, 0, 64)
	ad = append(ad, initiator[:]...)
	return append(ad, responder[:]...)
}

// Compile-time assertion that Service implements domain.SessionService.
var _ domain.SessionService = (*Service)(nil)

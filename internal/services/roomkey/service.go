package roomkey

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/logging"
	"cipherroom/internal/util/memzero"
)

// fanOutLimit bounds how many members are processed at once.
const fanOutLimit = 8

var selfSealInfo = []byte("cipherroom-self-seal")

var (
	errNoEntry     = errors.New("record has no entry for this device")
	errWrongSender = errors.New("self-sealed entry from another device")
	errBadSecret   = errors.New("room secret must be 32 bytes")
)

// Service generates, distributes and resolves versioned room keys.
//
// Keys this device has seen are served from the KeyStore. Concurrent
// resolutions of the same missing (room, version) share one fetch and one
// session decrypt.
type Service struct {
	keys      domain.KeyStore
	sessions  domain.SessionService
	directory domain.DirectoryClient
	rooms     domain.RoomKeyClient

	group singleflight.Group

	mu     sync.Mutex
	states map[domain.RoomID]domain.RoomState

	log *logrus.Entry
}

// New constructs a room key service.
func New(
	keys domain.KeyStore,
	sessions domain.SessionService,
	directory domain.DirectoryClient,
	rooms domain.RoomKeyClient,
) *Service {
	return &Service{
		keys:      keys,
		sessions:  sessions,
		directory: directory,
		rooms:     rooms,
		states:    make(map[domain.RoomID]domain.RoomState),
		log:       logging.For("roomkey"),
	}
}

// State returns where room sits in the key lifecycle on this device.
func (s *Service) State(room domain.RoomID) domain.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[room]
}

func (s *Service) setState(room domain.RoomID, st domain.RoomState) domain.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.states[room]
	s.states[room] = st
	return prev
}

// DistributeNewKey creates the next key version for room and delivers it to
// every device of every member, this device included. Members without
// devices and devices whose session fails are reported in the returned
// Distribution and skipped. The local latest version only advances once the
// record has been published.
func (s *Service) DistributeNewKey(
	ctx context.Context,
	room domain.RoomID,
	members []domain.UserID,
) (domain.Distribution, error) {
	const op = "roomkey.DistributeNewKey"
	id, err := s.identity(ctx, op)
	if err != nil {
		return domain.Distribution{}, err
	}

	version, err := s.nextVersion(ctx, room)
	if err != nil {
		return domain.Distribution{}, domain.E(domain.KindSetupFailure, op, err)
	}
	next := domain.RoomDistributing
	if version > 1 {
		next = domain.RoomRotating
	}
	prev := s.setState(room, next)

	raw, err := crypto.RandomBytes(len(domain.RoomSecret{}))
	if err != nil {
		s.setState(room, prev)
		return domain.Distribution{}, domain.E(domain.KindSetupFailure, op, err)
	}
	key := domain.RoomKey{
		RoomID:      room,
		Version:     version,
		Distributor: id.Address(),
		CreatedUTC:  time.Now().UTC().Unix(),
	}
	copy(key.Secret[:], raw)
	memzero.Zero(raw)

	log := s.log.WithFields(logrus.Fields{"room": room, "version": version})
	dist := domain.Distribution{RoomID: room, Version: version}
	upload := domain.RoomKeyUpload{Version: version, Sender: id.Address()}

	for _, r := range s.fanOut(ctx, id, key, withSelf(members, id.UserID)) {
		dist.Deliveries = append(dist.Deliveries, r.deliveries...)
		if len(r.keys.EncryptedSecretKeys) > 0 {
			upload.EncryptedKeys = append(upload.EncryptedKeys, r.keys)
		}
	}

	if err := s.keys.SaveRoomKey(ctx, key); err != nil {
		s.setState(room, prev)
		return dist, domain.E(domain.KindSetupFailure, op, err)
	}
	if err := s.rooms.PublishRoomKey(ctx, room, upload); err != nil {
		s.setState(room, prev)
		log.WithError(err).Warn("room key publish failed")
		return dist, domain.E(domain.KindSetupFailure, op, errors.Wrap(err, "publish room key"))
	}
	if err := s.keys.SetLatestRoomKeyVersion(ctx, room, version); err != nil {
		return dist, domain.E(domain.KindSetupFailure, op, err)
	}
	s.setState(room, domain.RoomDistributed)

	log.WithFields(logrus.Fields{
		"delivered": len(dist.Delivered()),
		"failed":    len(dist.Failures()),
	}).Info("room key distributed")
	return dist, nil
}

type memberResult struct {
	keys       domain.MemberKeys
	deliveries []domain.DeviceDelivery
}

// fanOut encrypts key for every device of every member. Results keep the
// order of members.
func (s *Service) fanOut(
	ctx context.Context,
	id domain.DeviceIdentity,
	key domain.RoomKey,
	members []domain.UserID,
) []memberResult {
	results := make([]memberResult, len(members))
	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for i, member := range members {
		g.Go(func() error {
			results[i] = s.deliverToMember(ctx, id, key, member)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) deliverToMember(
	ctx context.Context,
	id domain.DeviceIdentity,
	key domain.RoomKey,
	member domain.UserID,
) memberResult {
	const op = "roomkey.deliver"
	res := memberResult{keys: domain.MemberKeys{UserID: member}}
	self := id.Address()

	if member == id.UserID {
		// The local device is always addressed, even if the directory is behind.
		res.add(s.sealForSelf(id, key))
	}
	addrs, err := s.directory.ListDevices(ctx, member)
	if err != nil {
		res.deliveries = append(res.deliveries, domain.DeviceDelivery{
			Address: domain.DeviceAddress{UserID: member},
			Err:     domain.E(domain.KindHandshakeFailure, op, errors.Wrapf(err, "list devices of %s", member)),
		})
		return res
	}
	if len(addrs) == 0 && member != id.UserID {
		s.log.WithField("member", member).Warn("no devices found for member")
		res.deliveries = append(res.deliveries, domain.DeviceDelivery{
			Address: domain.DeviceAddress{UserID: member},
			Err:     domain.E(domain.KindPeerUnavailable, op, errors.Errorf("%s has no registered devices", member)),
		})
		return res
	}

	for _, addr := range addrs {
		if addr == self {
			continue
		}
		res.add(s.encryptForDevice(ctx, addr, key))
	}
	return res
}

func (r *memberResult) add(addr domain.DeviceAddress, blob []byte, err error) {
	r.deliveries = append(r.deliveries, domain.DeviceDelivery{Address: addr, Err: err})
	if err == nil {
		r.keys.EncryptedSecretKeys = append(r.keys.EncryptedSecretKeys, domain.EncryptedDeviceKey{
			DeviceID: addr.DeviceID,
			Key:      blob,
		})
	}
}

// encryptForDevice seals the room secret through the pairwise session with
// addr. A bundle is only fetched, and a one-time pre-key only spent, when no
// session exists yet.
func (s *Service) encryptForDevice(
	ctx context.Context,
	addr domain.DeviceAddress,
	key domain.RoomKey,
) (domain.DeviceAddress, []byte, error) {
	if err := s.sessions.EnsureSession(ctx, addr); err != nil {
		s.log.WithError(err).WithField("device", addr.String()).Warn("session unavailable, skipping device")
		return addr, nil, err
	}
	env, err := s.sessions.EncryptTo(ctx, addr, key.Secret.Slice())
	if err != nil {
		return addr, nil, err
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return addr, nil, errors.Wrap(err, "encode envelope")
	}
	return addr, blob, nil
}

func (s *Service) sealForSelf(id domain.DeviceIdentity, key domain.RoomKey) (domain.DeviceAddress, []byte, error) {
	k, err := selfSealKey(id)
	if err != nil {
		return id.Address(), nil, err
	}
	defer memzero.Zero(k)
	sealed, err := crypto.Seal(k, key.Secret.Slice(), associatedData(key.RoomID, key.Version))
	if err != nil {
		return id.Address(), nil, err
	}
	blob, err := json.Marshal(domain.CipherEnvelope{Type: domain.EnvelopeSelf, Ciphertext: sealed})
	if err != nil {
		return id.Address(), nil, errors.Wrap(err, "encode envelope")
	}
	return id.Address(), blob, nil
}

// ResolveKey returns the secret of an exact room key version. A version seen
// before is served locally; otherwise the record is fetched once, even for
// concurrent callers, and decrypted through the distributor's session.
func (s *Service) ResolveKey(
	ctx context.Context,
	room domain.RoomID,
	version domain.KeyVersion,
) (domain.RoomKey, error) {
	const op = "roomkey.ResolveKey"
	if version == 0 {
		return domain.RoomKey{}, domain.E(domain.KindKeyUnavailable, op, errors.New("version must be at least 1"))
	}
	if k, ok, err := s.keys.LoadRoomKey(ctx, room, version); err != nil {
		return domain.RoomKey{}, domain.E(domain.KindKeyUnavailable, op, err)
	} else if ok {
		return k, nil
	}

	v, err, _ := s.group.Do(fmt.Sprintf("key/%s/%d", room, version), func() (any, error) {
		if k, ok, err := s.keys.LoadRoomKey(ctx, room, version); err != nil || ok {
			return k, err
		}
		return s.fetchAndOpen(ctx, room, version)
	})
	if err != nil {
		return domain.RoomKey{}, domain.E(domain.KindKeyUnavailable, op, err)
	}
	return v.(domain.RoomKey), nil
}

// ResolveLatestVersion returns the active version of room: the local pointer
// when set, otherwise the version of the latest published record, whose key
// is resolved and stored on the way.
func (s *Service) ResolveLatestVersion(ctx context.Context, room domain.RoomID) (domain.KeyVersion, error) {
	const op = "roomkey.ResolveLatestVersion"
	if v, ok, err := s.keys.LatestRoomKeyVersion(ctx, room); err != nil {
		return 0, domain.E(domain.KindKeyUnavailable, op, err)
	} else if ok {
		return v, nil
	}

	v, err, _ := s.group.Do("latest/"+string(room), func() (any, error) {
		if v, ok, err := s.keys.LatestRoomKeyVersion(ctx, room); err != nil || ok {
			return v, err
		}
		k, err := s.fetchAndOpen(ctx, room, 0)
		if err != nil {
			return domain.KeyVersion(0), err
		}
		return k.Version, nil
	})
	if err != nil {
		return 0, domain.E(domain.KindKeyUnavailable, op, err)
	}
	return v.(domain.KeyVersion), nil
}

// fetchAndOpen downloads the record (version 0 means latest), opens this
// device's entry and stores the key.
func (s *Service) fetchAndOpen(ctx context.Context, room domain.RoomID, version domain.KeyVersion) (domain.RoomKey, error) {
	prev := s.setState(room, domain.RoomAwaitingFetch)
	restore := func() { s.setState(room, prev) }

	rec, err := s.rooms.FetchRoomKey(ctx, room, version)
	if err != nil {
		restore()
		return domain.RoomKey{}, errors.Wrap(err, "fetch room key")
	}
	if version != 0 && rec.Version != version {
		restore()
		return domain.RoomKey{}, errors.Errorf("asked for version %d, got %d", version, rec.Version)
	}
	if rec.Version == 0 {
		restore()
		return domain.RoomKey{}, errors.New("record without version")
	}

	id, err := s.identity(ctx, "roomkey.fetchAndOpen")
	if err != nil {
		restore()
		return domain.RoomKey{}, err
	}
	secret, err := s.openRecord(ctx, id, room, rec)
	if err != nil {
		restore()
		return domain.RoomKey{}, err
	}

	key := domain.RoomKey{
		RoomID:      room,
		Version:     rec.Version,
		Secret:      secret,
		Distributor: rec.Sender,
		CreatedUTC:  time.Now().UTC().Unix(),
	}
	if err := s.keys.SaveRoomKey(ctx, key); err != nil {
		restore()
		return domain.RoomKey{}, err
	}
	if err := s.keys.SetLatestRoomKeyVersion(ctx, room, key.Version); err != nil {
		restore()
		return domain.RoomKey{}, err
	}
	if prev == domain.RoomNoKey || prev == domain.RoomAwaitingFetch {
		prev = domain.RoomCached
	}
	restore()

	s.log.WithFields(logrus.Fields{
		"room":        room,
		"version":     key.Version,
		"distributor": rec.Sender.String(),
	}).Debug("room key resolved")
	return key, nil
}

func (s *Service) openRecord(
	ctx context.Context,
	id domain.DeviceIdentity,
	room domain.RoomID,
	rec domain.RoomKeyRecord,
) (domain.RoomSecret, error) {
	var secret domain.RoomSecret
	blob, ok := rec.EntryFor(id.Address())
	if !ok {
		return secret, errNoEntry
	}
	var env domain.CipherEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return secret, errors.Wrap(err, "decode entry")
	}

	var raw []byte
	switch env.Type {
	case domain.EnvelopeSelf:
		if rec.Sender != id.Address() {
			return secret, errWrongSender
		}
		k, err := selfSealKey(id)
		if err != nil {
			return secret, err
		}
		raw, err = crypto.Open(k, env.Ciphertext, associatedData(room, rec.Version))
		memzero.Zero(k)
		if err != nil {
			return secret, errors.Wrap(err, "open self-sealed entry")
		}
	default:
		if rec.Sender.IsZero() {
			return secret, errors.New("record has no sender")
		}
		var err error
		if raw, err = s.sessions.DecryptFrom(ctx, rec.Sender, env); err != nil {
			return secret, err
		}
	}
	defer memzero.Zero(raw)
	if len(raw) != len(secret) {
		return secret, errBadSecret
	}
	copy(secret[:], raw)
	return secret, nil
}

func (s *Service) nextVersion(ctx context.Context, room domain.RoomID) (domain.KeyVersion, error) {
	versions, err := s.keys.RoomKeyVersions(ctx, room)
	if err != nil {
		return 0, err
	}
	var max domain.KeyVersion
	for _, v := range versions {
		if v > max {
			max = v
		}
	}
	if latest, ok, err := s.keys.LatestRoomKeyVersion(ctx, room); err != nil {
		return 0, err
	} else if ok && latest > max {
		max = latest
	}
	return max + 1, nil
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

// withSelf returns members de-duplicated with the local user appended if missing.
func withSelf(members []domain.UserID, self domain.UserID) []domain.UserID {
	seen := make(map[domain.UserID]bool, len(members)+1)
	out := make([]domain.UserID, 0, len(members)+1)
	for _, m := range append(append([]domain.UserID(nil), members...), self) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func selfSealKey(id domain.DeviceIdentity) ([]byte, error) {
	k := make([]byte, crypto.KeyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, id.Keys.XPriv.Slice(), nil, selfSealInfo), k); err != nil {
		return nil, errors.Wrap(err, "derive self-seal key")
	}
	return k, nil
}

// associatedData binds a sealed room secret or message to room and version.
func associatedData(room domain.RoomID, version domain.KeyVersion) []byte {
	return []byte(fmt.Sprintf("%s|%d", room, version))
}

// Compile-time assertion that Service implements domain.RoomKeyService.
var _ domain.RoomKeyService = (*Service)(nil)

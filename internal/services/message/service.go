package message

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cipherroom/internal/crypto"
	"cipherroom/internal/domain"
	"cipherroom/internal/logging"
)

const (
	// MinCiphertextBytes is nonce plus tag: the shortest valid payload.
	MinCiphertextBytes = crypto.NonceBytes + crypto.TagBytes

	batchLimit = 16
)

// Service encrypts and decrypts room messages under versioned room keys.
//
// High-level flow:
//   - Encrypt: resolve the room's active version and its key, then seal the
//     plaintext with a fresh random nonce.
//   - Decrypt: validate the payload, resolve the exact version it declares,
//     then open it. Each rejection has its own error kind and never aborts a
//     batch.
type Service struct {
	roomKeys domain.RoomKeyService
	sender   domain.UserID
	now      func() time.Time
	log      *logrus.Entry
}

// New constructs a message service. sender is stamped on outgoing messages.
func New(roomKeys domain.RoomKeyService, sender domain.UserID) *Service {
	return &Service{
		roomKeys: roomKeys,
		sender:   sender,
		now:      time.Now,
		log:      logging.For("message"),
	}
}

// Encrypt seals plaintext under the active key of room.
func (s *Service) Encrypt(ctx context.Context, room domain.RoomID, plaintext string) (domain.EncryptedMessage, error) {
	version, err := s.roomKeys.ResolveLatestVersion(ctx, room)
	if err != nil {
		return domain.EncryptedMessage{}, err
	}
	key, err := s.roomKeys.ResolveKey(ctx, room, version)
	if err != nil {
		return domain.EncryptedMessage{}, err
	}
	sealed, err := crypto.Seal(key.Secret.Slice(), []byte(plaintext), associatedData(room, version))
	if err != nil {
		return domain.EncryptedMessage{}, errors.Wrap(err, "seal message")
	}
	return domain.EncryptedMessage{
		RoomID:     room,
		Content:    crypto.B64(sealed),
		KeyVersion: version,
		SenderID:   s.sender,
		SentAt:     s.now().UnixMilli(),
	}, nil
}

// Decrypt opens content, which was sealed under version of room's key.
func (s *Service) Decrypt(
	ctx context.Context,
	room domain.RoomID,
	version domain.KeyVersion,
	content string,
) (string, error) {
	const op = "message.Decrypt"
	if content == "" {
		return "", domain.E(domain.KindMalformedCiphertext, op, errors.New("empty content"))
	}
	raw, err := crypto.FromB64(content)
	if err != nil {
		return "", domain.E(domain.KindMalformedCiphertext, op, errors.Wrap(err, "decode base64"))
	}
	if len(raw) < MinCiphertextBytes {
		return "", domain.E(domain.KindMalformedCiphertext, op, errors.Errorf("payload is %d bytes, need at least %d", len(raw), MinCiphertextBytes))
	}
	if version == 0 {
		return "", domain.E(domain.KindMalformedCiphertext, op, errors.New("missing key version"))
	}

	key, err := s.roomKeys.ResolveKey(ctx, room, version)
	if err != nil {
		if domain.KindOf(err) == domain.KindKeyUnavailable {
			return "", err
		}
		return "", domain.E(domain.KindKeyUnavailable, op, err)
	}
	pt, err := crypto.Open(key.Secret.Slice(), raw, associatedData(room, version))
	if err != nil {
		return "", domain.E(domain.KindAuthenticationFailure, op, err)
	}
	if !utf8.Valid(pt) {
		return "", domain.E(domain.KindMalformedCiphertext, op, errors.New("plaintext is not valid UTF-8"))
	}
	return string(pt), nil
}

// DecryptMessage decrypts one transport message.
func (s *Service) DecryptMessage(ctx context.Context, msg domain.EncryptedMessage) (domain.DecryptedMessage, error) {
	pt, err := s.Decrypt(ctx, msg.RoomID, msg.KeyVersion, msg.Content)
	if err != nil {
		return domain.DecryptedMessage{}, err
	}
	return domain.DecryptedMessage{
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		KeyVersion: msg.KeyVersion,
		Plaintext:  pt,
		SentAt:     msg.SentAt,
	}, nil
}

// DecryptBatch decrypts msgs concurrently. The result at index i belongs to
// msgs[i]; one failure never affects the others.
func (s *Service) DecryptBatch(ctx context.Context, msgs []domain.EncryptedMessage) []domain.Result[domain.DecryptedMessage] {
	out := make([]domain.Result[domain.DecryptedMessage], len(msgs))
	var g errgroup.Group
	g.SetLimit(batchLimit)
	for i, msg := range msgs {
		g.Go(func() error {
			dm, err := s.DecryptMessage(ctx, msg)
			if err != nil {
				s.log.WithFields(logrus.Fields{
					"room":    msg.RoomID,
					"version": msg.KeyVersion,
					"kind":    domain.KindOf(err).String(),
				}).WithError(err).Warn("message could not be decrypted")
				out[i] = domain.Fail[domain.DecryptedMessage](err)
				return nil
			}
			out[i] = domain.Ok(dm)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// MergeTimeline combines history and realtime messages ordered by SentAt.
// Messages with equal timestamps keep history first, then arrival order.
func MergeTimeline(history, realtime []domain.DecryptedMessage) []domain.DecryptedMessage {
	out := make([]domain.DecryptedMessage, 0, len(history)+len(realtime))
	out = append(out, history...)
	out = append(out, realtime...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt < out[j].SentAt })
	return out
}

func associatedData(room domain.RoomID, version domain.KeyVersion) []byte {
	return []byte(fmt.Sprintf("%s|%d", room, version))
}

// Compile-time assertion that Service implements domain.MessageService.
var _ domain.MessageService = (*Service)(nil)

package testutil

import (
	"context"
	"sync"

	"cipherroom/internal/domain"
)

// CountingRelay wraps a relay client, counts calls and can inject failures.
type CountingRelay struct {
	Inner domain.RelayClient

	mu                sync.Mutex
	publishKeys       int
	bundleFetches     map[domain.UserID]int
	listDevices       int
	publishRoomKey    int
	fetchRoomKey      int
	publishKeysErr    error
	publishRoomKeyErr error
}

// NewCountingRelay wraps inner.
func NewCountingRelay(inner domain.RelayClient) *CountingRelay {
	return &CountingRelay{Inner: inner, bundleFetches: make(map[domain.UserID]int)}
}

// FailPublishKeys makes PublishKeys return err until called again with nil.
func (r *CountingRelay) FailPublishKeys(err error) {
	r.mu.Lock()
	r.publishKeysErr = err
	r.mu.Unlock()
}

// FailPublishRoomKey makes PublishRoomKey return err until called again with nil.
func (r *CountingRelay) FailPublishRoomKey(err error) {
	r.mu.Lock()
	r.publishRoomKeyErr = err
	r.mu.Unlock()
}

func (r *CountingRelay) PublishKeys(ctx context.Context, reg domain.KeyRegistration) error {
	r.mu.Lock()
	r.publishKeys++
	err := r.publishKeysErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Inner.PublishKeys(ctx, reg)
}

func (r *CountingRelay) FetchDevices(ctx context.Context, user domain.UserID) ([]domain.PreKeyBundle, error) {
	r.mu.Lock()
	r.bundleFetches[user]++
	r.mu.Unlock()
	return r.Inner.FetchDevices(ctx, user)
}

func (r *CountingRelay) ListDevices(ctx context.Context, user domain.UserID) ([]domain.DeviceAddress, error) {
	r.mu.Lock()
	r.listDevices++
	r.mu.Unlock()
	return r.Inner.ListDevices(ctx, user)
}

func (r *CountingRelay) FetchDevice(ctx context.Context, addr domain.DeviceAddress) (domain.PreKeyBundle, error) {
	r.mu.Lock()
	r.bundleFetches[addr.UserID]++
	r.mu.Unlock()
	return r.Inner.FetchDevice(ctx, addr)
}

func (r *CountingRelay) PublishRoomKey(ctx context.Context, room domain.RoomID, upload domain.RoomKeyUpload) error {
	r.mu.Lock()
	r.publishRoomKey++
	err := r.publishRoomKeyErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Inner.PublishRoomKey(ctx, room, upload)
}

func (r *CountingRelay) FetchRoomKey(
	ctx context.Context,
	room domain.RoomID,
	version domain.KeyVersion,
) (domain.RoomKeyRecord, error) {
	r.mu.Lock()
	r.fetchRoomKey++
	r.mu.Unlock()
	return r.Inner.FetchRoomKey(ctx, room, version)
}

// PublishKeysCalls reports how many times PublishKeys ran.
func (r *CountingRelay) PublishKeysCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publishKeys
}

// BundleFetches reports how many FetchDevices and FetchDevice calls were
// made for user. Each one may consume one-time pre-keys.
func (r *CountingRelay) BundleFetches(user domain.UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bundleFetches[user]
}

// ListDevicesCalls reports how many times ListDevices ran.
func (r *CountingRelay) ListDevicesCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listDevices
}

// PublishRoomKeyCalls reports how many times PublishRoomKey ran.
func (r *CountingRelay) PublishRoomKeyCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publishRoomKey
}

// FetchRoomKeyCalls reports how many times FetchRoomKey ran.
func (r *CountingRelay) FetchRoomKeyCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetchRoomKey
}

// Reset zeroes every counter.
func (r *CountingRelay) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishKeys, r.publishRoomKey, r.fetchRoomKey, r.listDevices = 0, 0, 0, 0
	r.bundleFetches = make(map[domain.UserID]int)
}

var _ domain.RelayClient = (*CountingRelay)(nil)

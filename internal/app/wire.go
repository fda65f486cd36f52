package app

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"

	"cipherroom/internal/domain"
	"cipherroom/internal/relay"
	identitysvc "cipherroom/internal/services/identity"
	messagesvc "cipherroom/internal/services/message"
	prekeysvc "cipherroom/internal/services/prekey"
	roomkeysvc "cipherroom/internal/services/roomkey"
	sessionsvc "cipherroom/internal/services/session"
	"cipherroom/internal/store"
)

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Config   Config
	Keys     *store.KeyStore
	Relay    domain.RelayClient
	PreKeys  *prekeysvc.Service
	Identity *identitysvc.Service
	Sessions *sessionsvc.Service
	RoomKeys *roomkeysvc.Service
	Messages *messagesvc.Service

	closers []func() error
}

// NewWire constructs the dependency graph from cfg: the configured storage
// backend, an HTTP directory client and the services on top.
func NewWire(cfg Config) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kv, closeKV, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	w, err := Assemble(cfg, kv, relay.NewHTTP(cfg.DirectoryURL, cfg.HTTPTimeout))
	if err != nil {
		_ = closeKV()
		return nil, err
	}
	w.closers = append(w.closers, closeKV)
	return w, nil
}

// Assemble builds the services over an already opened backend and relay
// client. The backend is scoped to the configured user and sealed with the
// passphrase.
func Assemble(cfg Config, backend store.KV, rc domain.RelayClient) (*Wire, error) {
	var opts []store.SealedOption
	if cfg.ScryptCost > 0 {
		opts = append(opts, store.WithScryptCost(cfg.ScryptCost))
	}
	sealed, err := store.Sealed(store.Namespace(backend, string(cfg.User)), cfg.Passphrase, opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "open key store")
	}
	keys := store.NewKeyStore(sealed)

	prekeys := prekeysvc.New(keys, rc)
	sessions := sessionsvc.New(keys, rc)
	roomKeys := roomkeysvc.New(keys, sessions, rc, rc)

	return &Wire{
		Config:   cfg,
		Keys:     keys,
		Relay:    rc,
		PreKeys:  prekeys,
		Identity: identitysvc.New(keys, prekeys),
		Sessions: sessions,
		RoomKeys: roomKeys,
		Messages: messagesvc.New(roomKeys, cfg.User),
		closers: []func() error{func() error {
			sealed.Close()
			return nil
		}},
	}, nil
}

// Start ensures the device identity exists and is published, then tops up
// the one-time pre-keys on offer.
func (w *Wire) Start(ctx context.Context) (domain.DeviceIdentity, error) {
	id, err := w.Identity.EnsureIdentity(ctx, w.Config.User, w.Config.Device, w.Config.DeviceName)
	if err != nil {
		return domain.DeviceIdentity{}, err
	}
	if w.Config.PreKeyBatch > 0 {
		if _, err := w.PreKeys.Replenish(ctx, w.Config.PreKeyThreshold, w.Config.PreKeyBatch); err != nil {
			return domain.DeviceIdentity{}, err
		}
	}
	return id, nil
}

// Close releases the store and wipes the derived store key.
func (w *Wire) Close() error {
	var first error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	w.closers = nil
	return first
}

func openBackend(cfg Config) (store.KV, func() error, error) {
	noop := func() error { return nil }
	switch cfg.StoreBackend {
	case BackendMemory:
		return store.NewMemoryKV(), noop, nil
	case BackendFile:
		kv, err := store.NewFileKV(filepath.Join(cfg.Home, "store"))
		if err != nil {
			return nil, nil, err
		}
		return kv, noop, nil
	case BackendBadger:
		kv, err := store.OpenBadgerKV(filepath.Join(cfg.Home, "badger"))
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

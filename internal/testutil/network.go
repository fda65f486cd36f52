package testutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cipherroom/internal/app"
	"cipherroom/internal/directory"
	"cipherroom/internal/domain"
	"cipherroom/internal/relay"
	"cipherroom/internal/store"
)

// Passphrase satisfies the passphrase policy and is shared by test devices.
const Passphrase = "Correct-Horse-9-Battery"

// ScryptCost keeps store key derivation fast in tests.
const ScryptCost = 1 << 10

// Network is a directory service on a loopback listener plus one shared
// in-memory backend that devices are namespaced into.
type Network struct {
	Registry *directory.Registry
	Server   *httptest.Server
	Backend  *store.MemoryKV
}

// NewNetwork starts a directory service that is closed with the test.
func NewNetwork(t testing.TB) *Network {
	t.Helper()
	reg := directory.NewRegistry()
	srv := httptest.NewServer(directory.NewServer(reg))
	t.Cleanup(srv.Close)
	return &Network{Registry: reg, Server: srv, Backend: store.NewMemoryKV()}
}

// Client returns an HTTP client for the directory service.
func (n *Network) Client() *relay.HTTP {
	return relay.NewHTTP(n.Server.URL, 5*time.Second)
}

// Device is a wired, started test device.
type Device struct {
	*app.Wire
	Relay    *CountingRelay
	Self     domain.DeviceIdentity
}

// Address is the device address.
func (d *Device) Address() domain.DeviceAddress { return d.Self.Address() }

// NewDevice wires a device for user/device without starting it. Each device
// gets its own backend namespace so devices of one user do not share keys.
func (n *Network) NewDevice(t testing.TB, user domain.UserID, device domain.DeviceID) *Device {
	t.Helper()
	cfg := app.Config{
		Home:         t.TempDir(),
		DirectoryURL: n.Server.URL,
		User:         user,
		Device:       device,
		DeviceName:   string(device),
		Passphrase:   Passphrase,
		StoreBackend: app.BackendMemory,
		HTTPTimeout:  5 * time.Second,
		PreKeyBatch:  0,
		ScryptCost:   ScryptCost,
	}
	rc := NewCountingRelay(n.Client())
	w, err := app.Assemble(cfg, store.Namespace(n.Backend, string(device)), rc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return &Device{Wire: w, Relay: rc}
}

// StartDevice wires and starts a device, publishing its keys.
func (n *Network) StartDevice(t testing.TB, user domain.UserID, device domain.DeviceID) *Device {
	t.Helper()
	d := n.NewDevice(t, user, device)
	id, err := d.Start(context.Background())
	require.NoError(t, err)
	d.Self = id
	d.Relay.Reset()
	return d
}

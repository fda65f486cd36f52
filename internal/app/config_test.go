package app_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherroom/internal/app"
	"cipherroom/internal/testutil"
)

func baseViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	app.SetDefaults(v)
	v.Set("home", t.TempDir())
	v.Set("user", "alice")
	v.Set("passphrase", testutil.Passphrase)
	v.Set("scrypt_cost", testutil.ScryptCost)
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	v := baseViper(t)
	cfg, err := app.LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, app.BackendBadger, cfg.StoreBackend)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5, cfg.PreKeyThreshold)
	assert.Equal(t, 10, cfg.PreKeyBatch)
	assert.NotEmpty(t, cfg.Device)

	// The generated device id is kept.
	again, err := app.LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, cfg.Device, again.Device)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CIPHERROOM_STORE_BACKEND", "memory")
	t.Setenv("CIPHERROOM_DEVICE", "phone")
	v := baseViper(t)
	cfg, err := app.LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, app.BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "phone", string(cfg.Device))
}

func TestLoadConfigValidation(t *testing.T) {
	v := baseViper(t)
	v.Set("user", "")
	_, err := app.LoadConfig(v)
	assert.Error(t, err)

	v = baseViper(t)
	v.Set("passphrase", "")
	_, err = app.LoadConfig(v)
	assert.Error(t, err)

	v = baseViper(t)
	v.Set("store_backend", "floppy")
	_, err = app.LoadConfig(v)
	assert.Error(t, err)
}

func TestNewWireBackends(t *testing.T) {
	for _, backend := range []string{app.BackendMemory, app.BackendFile, app.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			v := baseViper(t)
			v.Set("store_backend", backend)
			cfg, err := app.LoadConfig(v)
			require.NoError(t, err)

			w, err := app.NewWire(cfg)
			require.NoError(t, err)
			require.NotNil(t, w.Messages)
			require.NoError(t, w.Close())
		})
	}
}

func TestWrongPassphraseIsRejected(t *testing.T) {
	v := baseViper(t)
	v.Set("store_backend", app.BackendFile)
	cfg, err := app.LoadConfig(v)
	require.NoError(t, err)

	w, err := app.NewWire(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cfg.Passphrase = "Another-Passphrase-1"
	_, err = app.NewWire(cfg)
	assert.Error(t, err)
}

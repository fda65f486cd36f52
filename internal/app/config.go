package app

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"cipherroom/internal/domain"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
)

const deviceIDFile = "device-id"

// Config holds runtime wiring options for building the app.
type Config struct {
	Home         string // config directory, e.g. $HOME/.cipherroom
	DirectoryURL string // directory base URL, e.g. http://127.0.0.1:8080
	User         domain.UserID
	Device       domain.DeviceID
	DeviceName   string
	Passphrase   string
	StoreBackend string
	LogLevel     string
	LogFormat    string
	HTTPTimeout  time.Duration

	PreKeyThreshold int
	PreKeyBatch     int

	// ScryptCost overrides the store KDF cost; zero keeps the default.
	ScryptCost int
}

// Address is the local device address.
func (c Config) Address() domain.DeviceAddress {
	return domain.DeviceAddress{UserID: c.User, DeviceID: c.Device}
}

// SetDefaults registers default values and the environment binding on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("directory_url", "http://127.0.0.1:8080")
	v.SetDefault("device_name", "cipherroom-cli")
	v.SetDefault("store_backend", BackendBadger)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("http_timeout", 10*time.Second)
	v.SetDefault("prekey_threshold", 5)
	v.SetDefault("prekey_batch", 10)

	v.SetEnvPrefix("CIPHERROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// ReadConfigFile loads home/config.yaml into v when it exists.
func ReadConfigFile(v *viper.Viper, home string) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(home)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	return nil
}

// DefaultHome returns $HOME/.cipherroom.
func DefaultHome() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "home directory")
	}
	return filepath.Join(dir, ".cipherroom"), nil
}

// LoadConfig builds a Config from v. The home directory is created if
// needed. Without a configured device id a random one is generated once and
// persisted under home.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Home:            v.GetString("home"),
		DirectoryURL:    v.GetString("directory_url"),
		User:            domain.UserID(v.GetString("user")),
		Device:          domain.DeviceID(v.GetString("device")),
		DeviceName:      v.GetString("device_name"),
		Passphrase:      v.GetString("passphrase"),
		StoreBackend:    strings.ToLower(v.GetString("store_backend")),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		HTTPTimeout:     v.GetDuration("http_timeout"),
		PreKeyThreshold: v.GetInt("prekey_threshold"),
		PreKeyBatch:     v.GetInt("prekey_batch"),
		ScryptCost:      v.GetInt("scrypt_cost"),
	}
	if cfg.Home == "" {
		home, err := DefaultHome()
		if err != nil {
			return Config{}, err
		}
		cfg.Home = home
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return Config{}, errors.Wrap(err, "create home")
	}
	if cfg.Device == "" {
		id, err := loadOrCreateDeviceID(cfg.Home)
		if err != nil {
			return Config{}, err
		}
		cfg.Device = id
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields NewWire depends on.
func (c Config) Validate() error {
	switch {
	case c.User == "":
		return errors.New("user is required")
	case c.Device == "":
		return errors.New("device is required")
	case c.Passphrase == "":
		return errors.New("passphrase is required")
	case c.PreKeyBatch < 0 || c.PreKeyThreshold < 0:
		return errors.New("prekey_threshold and prekey_batch must not be negative")
	}
	switch c.StoreBackend {
	case BackendMemory, BackendFile, BackendBadger:
	default:
		return errors.Errorf("unknown store backend %q", c.StoreBackend)
	}
	return nil
}

func loadOrCreateDeviceID(home string) (domain.DeviceID, error) {
	path := filepath.Join(home, deviceIDFile)
	b, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return domain.DeviceID(id), nil
		}
	} else if !os.IsNotExist(err) {
		return "", errors.Wrap(err, "read device id")
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", errors.Wrap(err, "write device id")
	}
	return domain.DeviceID(id), nil
}

package commands

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cipherroom/internal/app"
	"cipherroom/internal/logging"
)

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd(viper.New()).Execute()
}

// NewRootCmd builds the command tree around v. Every subcommand reads its
// settings from v.
func NewRootCmd(v *viper.Viper) *cobra.Command {
	var wire *app.Wire
	e := &env{v: v, wire: func() *app.Wire { return wire }}

	root := &cobra.Command{
		Use:           "cipherroom",
		Short:         "End-to-end encrypted group messaging key lifecycle",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Configure(v.GetString("log_level"), v.GetString("log_format"), cmd.ErrOrStderr()); err != nil {
				return err
			}
			home := v.GetString("home")
			if home == "" {
				var err error
				if home, err = app.DefaultHome(); err != nil {
					return err
				}
				v.Set("home", home)
			}
			if err := app.ReadConfigFile(v, home); err != nil {
				return err
			}
			cfg, err := app.LoadConfig(v)
			if err != nil {
				return errors.WithMessage(err, "config")
			}
			wire, err = app.NewWire(cfg)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	app.SetDefaults(v)
	flags := root.PersistentFlags()
	flags.String("home", "", "config dir (default ~/.cipherroom)")
	flags.String("directory-url", "", "directory base URL (e.g. http://127.0.0.1:8080)")
	flags.String("user", "", "your user id")
	flags.String("device", "", "device id (default: generated once and kept in home)")
	flags.String("device-name", "", "human readable device name")
	flags.StringP("passphrase", "p", "", "passphrase protecting the local key store")
	flags.String("store-backend", "", "key store backend (memory, file, badger)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.Duration("http-timeout", 0, "timeout for directory requests")
	for _, name := range []string{
		"home", "directory-url", "user", "device", "device-name", "passphrase",
		"store-backend", "log-level", "log-format", "http-timeout",
	} {
		_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}

	root.AddCommand(
		initCmd(e),
		fingerprintCmd(e),
		prekeysCmd(e),
		startSessionCmd(e),
		roomCmd(e),
		encryptCmd(e),
		decryptCmd(e),
	)
	return root
}

// env gives subcommands access to settings and the wired services.
type env struct {
	v    *viper.Viper
	wire func() *app.Wire
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"cipherroom/internal/services/identity"
)

func initCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity and pre-keys, store them securely and publish them",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := e.wire()
			if err := identity.CheckPassphrase(w.Config.Passphrase); err != nil {
				return err
			}
			id, err := w.Start(cmd.Context())
			if err != nil {
				return err
			}
			fp, err := w.Identity.Fingerprint(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Device %s ready.\nFingerprint: %s\n", id.Address(), fp)
			return nil
		},
	}
}

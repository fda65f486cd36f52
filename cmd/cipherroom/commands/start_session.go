package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cipherroom/internal/domain"
)

// startSessionCmd runs X3DH against every published device of a user that
// has no session yet and persists the sessions for later room key distribution.
func startSessionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "start-session <user>",
		Short: "Establish secure sessions with every device of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := e.wire()
			user := domain.UserID(args[0])

			addrs, err := w.Relay.ListDevices(cmd.Context(), user)
			if err != nil {
				return errors.Wrapf(err, "list devices of %q", user)
			}
			if len(addrs) == 0 {
				return domain.E(domain.KindPeerUnavailable, "start-session", errors.Errorf("%s has no registered devices", user))
			}
			for _, addr := range addrs {
				if addr == w.Config.Address() {
					continue
				}
				if err := w.Sessions.EnsureSession(cmd.Context(), addr); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", addr, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session ready with %s.\n", addr)
			}
			return nil
		},
	}
}

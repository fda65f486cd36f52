package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"cipherroom/internal/domain"
)

func encryptCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <room> <message>",
		Short: "Encrypt a room message and print it as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := e.wire().Messages.Encrypt(cmd.Context(), domain.RoomID(args[0]), args[1])
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(msg)
		},
	}
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func prekeysCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prekeys",
		Short: "Manage one-time pre-keys",
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Generate and publish one-time pre-keys when running low",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := e.wire()
			added, err := w.PreKeys.Replenish(cmd.Context(), e.v.GetInt("prekey_threshold"), e.v.GetInt("prekey_batch"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d one-time pre-keys.\n", added)
			return nil
		},
	}
	refresh.Flags().Int("threshold", 0, "replenish when fewer than this many remain")
	refresh.Flags().Int("batch", 0, "how many keys to add")
	_ = e.v.BindPFlag("prekey_threshold", refresh.Flags().Lookup("threshold"))
	_ = e.v.BindPFlag("prekey_batch", refresh.Flags().Lookup("batch"))

	cmd.AddCommand(refresh)
	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"cipherroom/internal/domain"
)

func roomCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Manage room keys",
	}
	cmd.AddCommand(roomRotateCmd(e), roomVersionCmd(e))
	return cmd
}

func roomRotateCmd(e *env) *cobra.Command {
	var members []string
	cmd := &cobra.Command{
		Use:   "rotate <room>",
		Short: "Create and distribute a new room key version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]domain.UserID, 0, len(members))
			for _, m := range members {
				ids = append(ids, domain.UserID(m))
			}
			dist, err := e.wire().RoomKeys.DistributeNewKey(cmd.Context(), domain.RoomID(args[0]), ids)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Room %s now at version %d.\n", dist.RoomID, dist.Version)
			for _, d := range dist.Deliveries {
				if d.Delivered() {
					fmt.Fprintf(out, "  delivered  %s\n", d.Address)
				} else {
					fmt.Fprintf(out, "  failed     %s: %v\n", d.Address, d.Err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&members, "member", "m", nil, "room member user id (repeatable)")
	return cmd
}

func roomVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version <room>",
		Short: "Print the active key version of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := e.wire().RoomKeys.ResolveLatestVersion(cmd.Context(), domain.RoomID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

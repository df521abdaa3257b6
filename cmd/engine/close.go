package main

import (
	"fmt"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <position-id>",
		Short: "Close a position at the current mark with reason admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid position id %q: %w", args[0], err)
			}

			a, err := bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.posSvc.ClosePosition(cmd.Context(), id, uuid.Nil, domain.ReasonAdmin)
			if err != nil {
				return err
			}
			if !out.Applied {
				fmt.Fprintf(cmd.OutOrStdout(), "position %s was already closed (pnl %s)\n", id, out.PnL.StringFixed(2))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %s: pnl %s, balance %s\n",
				id, out.PnL.StringFixed(2), out.BalanceAfter.StringFixed(2))
			return nil
		},
	}
}

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ton-giveaways/backend/internal/repositories"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Print the last processed operator wallet transaction",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		e, cleanup, err := setup(ctx, "settlectl")
		if err != nil {
			return err
		}
		defer cleanup()

		cp, err := repositories.NewSettlementStore(e.pool).LoadCheckpoint(ctx)
		if err != nil {
			return err
		}
		if cp.IsZero() {
			fmt.Fprintln(cmd.OutOrStdout(), "no transaction processed yet")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "lt:   %d\nhash: %s\n", cp.LT, hex.EncodeToString(cp.Hash))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
}

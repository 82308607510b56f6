package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ton-giveaways/backend/internal/db"
)

var (
	migrateStatus bool

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
)

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list pending migrations without applying them")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, cleanup, err := setup(ctx, "settlectl")
	if err != nil {
		return err
	}
	defer cleanup()

	if !migrateStatus {
		return db.RunMigrations(ctx, e.pool, e.cfg.MigrationsDir, e.log)
	}

	pending, err := db.PendingMigrations(ctx, e.pool, e.cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	}
	for _, name := range pending {
		fmt.Fprintln(cmd.OutOrStdout(), "pending:", name)
	}
	return nil
}

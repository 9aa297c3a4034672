package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caminocomms/flames-selfie-test/internal/infra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the embedded schema migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(infra.MigrateUp), string(infra.MigrateDown)},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadToolConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}
	direction := infra.MigrateDirection(args[0])
	if err := infra.Migrate(cfg.DatabaseURL, direction); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", direction)
	return nil
}

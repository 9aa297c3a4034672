// Package main provides selfiectl, the operator CLI for the selfie service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caminocomms/flames-selfie-test/internal/bootstrap"
	"github.com/caminocomms/flames-selfie-test/internal/infra"
)

var rootCmd = &cobra.Command{
	Use:           "selfiectl",
	Short:         "Operator tooling for the flames selfie service",
	Long:          "selfiectl migrates the database, sweeps expired results and inspects or repairs individual jobs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// toolLogger writes to stderr so command output on stdout stays parseable.
func toolLogger(cfg *infra.Config) zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "selfiectl").Str("env", cfg.AppEnv).Logger()
}

func openStore(ctx context.Context) (*infra.Config, *bootstrap.Store, zerolog.Logger, error) {
	cfg, err := infra.LoadToolConfig()
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	logger := toolLogger(cfg)
	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, logger, fmt.Errorf("open store: %w", err)
	}
	return cfg, store, logger, nil
}

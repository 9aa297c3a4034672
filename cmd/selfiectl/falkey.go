package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/caminocomms/flames-selfie-test/internal/infra/credentials"
)

var errNeedsPostgres = errors.New("falkey requires the postgres store")

var (
	falKey   string
	falSetBy string
)

var falkeyCmd = &cobra.Command{
	Use:   "falkey",
	Short: "Manage the stored fal.ai API key",
}

var falkeySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the fal.ai API key in integration_tokens",
	Args:  cobra.NoArgs,
	RunE:  runFalkeySet,
}

var falkeyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a fal.ai API key is stored, and who set it",
	Args:  cobra.NoArgs,
	RunE:  runFalkeyStatus,
}

func init() {
	falkeySetCmd.Flags().StringVar(&falKey, "key", "", "fal.ai API key (required)")
	falkeySetCmd.Flags().StringVar(&falSetBy, "set-by", "selfiectl", "Operator recorded with the key")
	_ = falkeySetCmd.MarkFlagRequired("key")

	falkeyCmd.AddCommand(falkeySetCmd, falkeyStatusCmd)
	rootCmd.AddCommand(falkeyCmd)
}

func runFalkeySet(cmd *cobra.Command, _ []string) error {
	key := strings.TrimSpace(falKey)
	if key == "" {
		return fmt.Errorf("--key must not be empty")
	}

	ctx := cmd.Context()
	_, store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	if store.SQL == nil {
		return errNeedsPostgres
	}

	if err := credentials.NewStore(store.SQL).SetFalAPIKey(ctx, key, falSetBy); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "fal key stored")
	return nil
}

func runFalkeyStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	_, store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	if store.SQL == nil {
		return errNeedsPostgres
	}

	tok, ok, err := credentials.NewStore(store.SQL).Lookup(ctx, credentials.ProviderFal)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintln(out, "no fal key stored")
		return nil
	}
	setBy := tok.SetBy
	if setBy == "" {
		setBy = "unknown"
	}
	fmt.Fprintf(out, "fal key %s set by %s at %s\n", tok.Masked(), setBy, tok.UpdatedAt.UTC().Format(time.RFC3339))
	return nil
}

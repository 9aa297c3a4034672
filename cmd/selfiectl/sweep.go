package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caminocomms/flames-selfie-test/internal/bootstrap"
	"github.com/caminocomms/flames-selfie-test/internal/sweeper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired results and their blobs once",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, store, logger, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, _, err := bootstrap.OpenBlobs(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open blobs: %w", err)
	}

	report, err := sweeper.New(store.Jobs, blobs, 0, nil, logger).SweepOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "swept %d jobs, deleted %d blobs\n", report.Jobs, len(report.Deleted))
	for _, f := range report.Failed {
		fmt.Fprintf(out, "  failed %s: %v\n", f.Key, f.Err)
	}
	return nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

var (
	failCode    string
	failMessage string
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect or repair a single job",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobGet,
}

var jobFailCmd = &cobra.Command{
	Use:   "fail <id>",
	Short: "Force a processing job into the failed state",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobFail,
}

func init() {
	jobFailCmd.Flags().StringVar(&failCode, "code", string(domain.ErrorCodeInternal), "Internal error code recorded on the job")
	jobFailCmd.Flags().StringVar(&failMessage, "message", domain.MessageGenerationFailed, "User-facing error message")

	jobCmd.AddCommand(jobGetCmd, jobFailCmd)
	rootCmd.AddCommand(jobCmd)
}

func runJobGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	job, err := store.Jobs.Get(ctx, args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("job %s not found", args[0])
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func runJobFail(cmd *cobra.Command, args []string) error {
	code := strings.ToUpper(strings.TrimSpace(failCode))
	if code == "" {
		return fmt.Errorf("--code must not be empty")
	}
	message := strings.TrimSpace(failMessage)
	if message == "" {
		return fmt.Errorf("--message must not be empty")
	}

	ctx := cmd.Context()
	_, store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	applied, err := store.Jobs.MarkFailed(ctx, args[0], message, code)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("job %s is missing or no longer processing", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "job %s marked failed (%s)\n", args[0], code)
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
	"github.com/redhat-et/did-jwt-verifier/verifier-service/internal/batch"
)

var (
	batchInput       string
	batchConcurrency int
	batchTimeout     time.Duration
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Verify a file of tokens",
	Long: `Verify one token per line of the input file against the configured key
store and print a JSON report. Blank lines and lines starting with '#' are
skipped.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringVar(&batchInput, "input", "", "File with one token per line ('-' for stdin)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", batch.DefaultConcurrency, "Number of tokens verified at once")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Second, "Deadline for the whole batch")
	batchCmd.MarkFlagRequired("input")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in := os.Stdin
	if batchInput != "-" {
		f, err := os.Open(batchInput)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	tokens, err := batch.ReadTokens(in)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	store, err := openKeyStore(ctx, cfg, cliLogger(logger.ComponentKeyStore))
	if err != nil {
		return err
	}

	runner := batch.NewRunner(batch.KeyStoreVerifier(store, newVerifier(cfg)), batchConcurrency, "cli_batch", cliLogger(logger.ComponentBatch))
	report, err := runner.Run(ctx, tokens)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), report)
}

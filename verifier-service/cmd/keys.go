package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redhat-et/did-jwt-verifier/pkg/keystore"
	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect and populate the key store",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the key ids known to the configured key store",
	Args:  cobra.NoArgs,
	RunE:  runKeysList,
}

var keysImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import keys from a JWKS or DID document",
	Long: `Import the Ed25519 keys of a JWKS or DID document into the configured key
store. Only writable stores (s3) accept imports. It's typically run as an
init container in Kubernetes to seed the trusted issuer keys.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysImport,
}

var importIfEmpty bool

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysImportCmd)
	keysImportCmd.Flags().BoolVar(&importIfEmpty, "if-empty", false, "Only import if the key store is empty")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openKeyStore(ctx, cfg, cliLogger(logger.ComponentKeyStore))
	if err != nil {
		return err
	}
	kids, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	for _, kid := range kids {
		fmt.Fprintln(cmd.OutOrStdout(), kid)
	}
	return nil
}

func runKeysImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	keys, err := keystore.ParseKeySet(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	log := cliLogger(logger.ComponentKeyStore)
	ctx := context.Background()
	store, err := openKeyStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Verify connectivity
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to key store: %w", err)
	}

	if importIfEmpty {
		existing, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}
		if len(existing) > 0 {
			log.Info("Key store is not empty, skipping import (--if-empty flag)", "keys", len(existing))
			return nil
		}
	}

	writer, ok := store.(keystore.Writer)
	if !ok || cfg.KeyStore.Source == "" || keystore.Source(cfg.KeyStore.Source) == keystore.SourceMemory {
		return fmt.Errorf("keystore source %q does not accept imports", cfg.KeyStore.Source)
	}

	log.Section("IMPORTING KEYS")
	if err := writer.Put(ctx, keys); err != nil {
		return fmt.Errorf("failed to import keys: %w", err)
	}
	for kid := range keys {
		log.Token(kid, "Imported key")
	}
	log.Success("Import complete", "keys", len(keys))
	return nil
}

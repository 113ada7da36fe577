package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/redhat-et/did-jwt-verifier/pkg/keystore"
	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
	"github.com/redhat-et/did-jwt-verifier/pkg/token"
)

var (
	verifyToken     string
	verifyTokenFile string
	verifyPublicKey string
	verifyJWKSFile  string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a single token",
	Long: `Verify a compact JWS token and print the outcome as JSON.

The key is taken from --public-key when given. Otherwise it is looked up by
the header kid, in --jwks-file or in the configured key store. The command
exits with status 1 when the token is invalid.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyToken, "token", "", "Compact JWS token")
	verifyCmd.Flags().StringVar(&verifyTokenFile, "token-file", "", "File holding the token ('-' for stdin)")
	verifyCmd.Flags().StringVar(&verifyPublicKey, "public-key", "", "Base64url Ed25519 public key")
	verifyCmd.Flags().StringVar(&verifyJWKSFile, "jwks-file", "", "JWKS or DID document to look the kid up in")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	raw, err := readToken(verifyToken, verifyTokenFile)
	if err != nil {
		return err
	}

	verifier := newVerifier(cfg)
	ctx := context.Background()

	var outcome token.Outcome
	switch {
	case verifyPublicKey != "":
		outcome = verifier.VerifyToken(raw, verifyPublicKey)
	default:
		var store keystore.KeyStore
		if verifyJWKSFile != "" {
			store, err = keystore.LoadFile(verifyJWKSFile)
		} else {
			store, err = openKeyStore(ctx, cfg, cliLogger(logger.ComponentKeyStore))
		}
		if err != nil {
			return err
		}
		if _, outcome, err = keystore.Verify(ctx, store, verifier, raw); err != nil {
			return err
		}
	}

	if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
		return err
	}
	if !outcome.Valid {
		return fmt.Errorf("token is invalid: %s", outcome.Reason)
	}
	return nil
}

func readToken(inline, path string) (string, error) {
	if inline != "" {
		return strings.TrimSpace(inline), nil
	}
	if path == "" {
		return "", errors.New("one of --token or --token-file is required")
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

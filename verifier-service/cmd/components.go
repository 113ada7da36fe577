package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/redhat-et/did-jwt-verifier/pkg/config"
	"github.com/redhat-et/did-jwt-verifier/pkg/keystore"
	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
	"github.com/redhat-et/did-jwt-verifier/pkg/token"
)

func loadConfig() (*config.CommonConfig, error) {
	var cfg config.CommonConfig
	if err := config.Load(v, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Service.LogLevel != "" {
		if err := logger.SetLevel(cfg.Service.LogLevel); err != nil {
			return nil, err
		}
	}
	if err := logger.SetFormat(cfg.Service.LogFormat); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// openKeyStore opens the configured key store and instruments it
func openKeyStore(ctx context.Context, cfg *config.CommonConfig, log *logger.Logger) (keystore.KeyStore, error) {
	source := keystore.Source(cfg.KeyStore.Source)
	ksCfg := keystore.Config{
		Source: source,
		File:   cfg.KeyStore.File,
		Remote: keystore.RemoteConfig{
			URL:                cfg.KeyStore.URL,
			RefreshInterval:    cfg.KeyStore.RefreshInterval,
			MinRefetchInterval: cfg.KeyStore.MinRefetchInterval,
		},
	}
	if source == keystore.SourceS3 {
		// Load OBC-style environment variables for storage
		config.LoadStorageConfigFromEnv(&cfg.KeyStore.Storage)
		st := cfg.KeyStore.Storage
		ksCfg.S3 = keystore.S3Config{
			BucketHost:      st.BucketHost,
			BucketPort:      st.BucketPort,
			BucketName:      st.BucketName,
			ObjectKey:       st.ObjectKey,
			UseSSL:          st.UseSSL,
			Region:          st.Region,
			AccessKeyID:     st.AccessKeyID,
			SecretAccessKey: st.SecretKey,
		}
		log.Info("Connecting to S3 key store",
			"host", st.BucketHost,
			"port", st.BucketPort,
			"bucket", st.BucketName,
			"object", st.ObjectKey)
	}

	store, err := keystore.Open(ctx, ksCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}
	if source == "" {
		source = keystore.SourceMemory
	}
	log.Info("Key store ready", "source", source)
	return keystore.Instrument(store, source), nil
}

func newVerifier(cfg *config.CommonConfig) *token.Verifier {
	opts := []token.Option{token.WithAlgorithmCheck(cfg.Verification.RequireEdDSA)}
	if cfg.Verification.CheckTime {
		opts = append(opts, token.WithTimeValidation(cfg.Verification.Leeway))
	}
	return token.NewVerifier(opts...)
}

// cliLogger logs to stderr so that command output on stdout stays parseable
func cliLogger(component logger.Component) *logger.Logger {
	return logger.NewWithWriter(component, os.Stderr, os.Getenv("NO_COLOR") == "")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

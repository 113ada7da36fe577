package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/redhat-et/did-jwt-verifier/pkg/challenge"
	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
	"github.com/redhat-et/did-jwt-verifier/pkg/policy"
	"github.com/redhat-et/did-jwt-verifier/pkg/spiffe"
	"github.com/redhat-et/did-jwt-verifier/pkg/telemetry"
	"github.com/redhat-et/did-jwt-verifier/verifier-service/internal/api"
	"github.com/redhat-et/did-jwt-verifier/verifier-service/internal/batch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verifier HTTP API",
	Long:  `Start the token verification, authorization and presentation API on the configured port.`,
	RunE:  runServe,
}

var disablePolicy bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&disablePolicy, "no-policy", false, "Do not load an authorization policy")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:       "verifier-service",
		Enabled:           cfg.OTel.Enabled,
		CollectorEndpoint: cfg.OTel.CollectorEndpoint,
		SampleRatio:       cfg.OTel.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer otelShutdown(ctx)

	log := logger.New(logger.ComponentGateway)

	// Initialize SPIFFE workload client
	workloadClient := spiffe.NewWorkloadClient(spiffe.Config{
		SocketPath:  cfg.SPIFFE.SocketPath,
		TrustDomain: cfg.SPIFFE.TrustDomain,
		MockMode:    cfg.Service.MockSPIFFE,
	}, logger.New(logger.ComponentMTLS))

	if !cfg.Service.MockSPIFFE {
		identity, err := workloadClient.FetchIdentity(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch SPIFFE identity: %w", err)
		}
		log.Info("SPIFFE identity acquired", "spiffe_id", identity.SPIFFEID)
	} else {
		workloadClient.SetMockIdentity("spiffe://" + cfg.SPIFFE.TrustDomain + "/service/verifier-service")
	}

	keys, err := openKeyStore(ctx, cfg, logger.New(logger.ComponentKeyStore))
	if err != nil {
		return err
	}
	if err := keys.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to key store: %w", err)
	}

	var engine *policy.Engine
	if !disablePolicy {
		engine, err = policy.New(ctx, policy.Config{
			File:           cfg.Policy.File,
			Query:          cfg.Policy.Query,
			TrustedIssuers: cfg.Policy.TrustedIssuers,
		})
		if err != nil {
			return fmt.Errorf("failed to load policy: %w", err)
		}
		policyLog := logger.New(logger.ComponentPolicy)
		policyLog.Policy("Policy loaded", "policy", engine.Name(), "trusted_issuers", len(cfg.Policy.TrustedIssuers))
		if len(cfg.Policy.TrustedIssuers) == 0 {
			policyLog.Warn("No trusted issuers configured, any issuer in the key store may grant access")
		}
	}

	verifier := newVerifier(cfg)
	svc := api.New(api.Options{
		Keys:     keys,
		Verifier: verifier,
		Policy:   engine,
		Challenges: challenge.NewStore(challenge.Config{
			TTL:      cfg.Challenge.TTL,
			Capacity: cfg.Challenge.Capacity,
			Domain:   cfg.Challenge.Domain,
		}),
		Batch: batch.NewRunner(batch.KeyStoreVerifier(keys, verifier), 0, "http_batch", logger.New(logger.ComponentBatch)),
		Log:   log,
	})

	// Wrap with SPIFFE identity middleware
	var handler http.Handler = spiffe.IdentityMiddleware(cfg.Service.MockSPIFFE)(svc.Routes())
	if cfg.OTel.Enabled {
		handler = telemetry.WrapHandler(handler, "verifier-service")
	}

	server := workloadClient.CreateHTTPServer(cfg.Service.Addr(), handler)
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 30 * time.Second

	healthServer := &http.Server{
		Addr:         cfg.Service.HealthAddr(),
		Handler:      svc.HealthRoutes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info("Shutting down verifier service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Shutdown error", "error", err)
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Health server shutdown error", "error", err)
		}
		if err := workloadClient.Close(); err != nil {
			log.Error("Failed to close SPIFFE workload client", "error", err)
		}
		close(done)
	}()

	log.Section("STARTING VERIFIER SERVICE")
	log.Info("Verifier service starting", "addr", cfg.Service.Addr())
	log.Info("Health server starting", "addr", cfg.Service.HealthAddr())
	log.Info("Key store", "source", cfg.KeyStore.Source)
	log.Info("Verification", "require_eddsa", cfg.Verification.RequireEdDSA, "check_time", cfg.Verification.CheckTime)
	log.Info("Challenge TTL", "ttl", cfg.Challenge.TTL)
	log.Info("mTLS mode", "enabled", !cfg.Service.MockSPIFFE)

	// Start separate plain HTTP health server for Kubernetes probes
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Health server error", "error", err)
		}
	}()

	// Start main server (mTLS if not in mock mode)
	var serverErr error
	if !cfg.Service.MockSPIFFE && !cfg.Service.ListenPlainHTTP && server.TLSConfig != nil {
		serverErr = server.ListenAndServeTLS("", "")
	} else {
		serverErr = server.ListenAndServe()
	}
	if serverErr != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", serverErr)
	}

	<-done
	log.Info("Verifier service stopped")
	return nil
}

// Package api serves token verification, authorization and presentation
// challenges over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redhat-et/did-jwt-verifier/pkg/challenge"
	"github.com/redhat-et/did-jwt-verifier/pkg/credential"
	"github.com/redhat-et/did-jwt-verifier/pkg/did"
	"github.com/redhat-et/did-jwt-verifier/pkg/keystore"
	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
	"github.com/redhat-et/did-jwt-verifier/pkg/metrics"
	"github.com/redhat-et/did-jwt-verifier/pkg/policy"
	"github.com/redhat-et/did-jwt-verifier/pkg/spiffe"
	"github.com/redhat-et/did-jwt-verifier/pkg/telemetry"
	"github.com/redhat-et/did-jwt-verifier/pkg/token"
	"github.com/redhat-et/did-jwt-verifier/verifier-service/internal/batch"
)

const maxBodyBytes = 1 << 20

// Options wires the server's dependencies. Policy may be nil, in which case
// /v1/authorize is not served and presentations are not authorized.
type Options struct {
	Keys       keystore.KeyStore
	Verifier   *token.Verifier
	Policy     *policy.Engine
	Challenges *challenge.Store
	Batch      *batch.Runner
	Log        *logger.Logger
}

// Server holds the HTTP handlers
type Server struct {
	keys          keystore.KeyStore
	verifier      *token.Verifier
	policy        *policy.Engine
	challenges    *challenge.Store
	presentations *credential.PresentationVerifier
	batch         *batch.Runner
	log           *logger.Logger
}

// New creates a server
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logger.New(logger.ComponentGateway)
	}
	if opts.Verifier == nil {
		opts.Verifier = token.NewVerifier()
	}
	if opts.Challenges == nil {
		opts.Challenges = challenge.NewStore(challenge.Config{})
	}
	if opts.Batch == nil {
		opts.Batch = batch.NewRunner(batch.KeyStoreVerifier(opts.Keys, opts.Verifier), 0, "http_batch", opts.Log)
	}
	return &Server{
		keys:          opts.Keys,
		verifier:      opts.Verifier,
		policy:        opts.Policy,
		challenges:    opts.Challenges,
		presentations: credential.NewPresentationVerifier(opts.Keys, opts.Verifier),
		batch:         opts.Batch,
		log:           opts.Log,
	}
}

// Routes returns the API mux
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/verify", s.handleVerify)
	mux.HandleFunc("/v1/verify/batch", s.handleBatch)
	mux.HandleFunc("/v1/authorize", s.handleAuthorize)
	mux.HandleFunc("/v1/challenges", s.handleChallenge)
	mux.HandleFunc("/v1/presentations", s.handlePresentation)
	mux.HandleFunc("/v1/keys", s.handleKeys)
	return mux
}

// HealthRoutes returns the plain HTTP mux for probes and metrics
func (s *Server) HealthRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

type verifyRequest struct {
	Token     string `json:"token"`
	PublicKey string `json:"public_key,omitempty"`
}

// authorizeRequest has no public_key: an authorization decision is only
// ever made over a key resolved from the token's kid
type authorizeRequest struct {
	Token string `json:"token"`
}

type batchRequest struct {
	Tokens []string `json:"tokens"`
}

type challengeRequest struct {
	DID string `json:"did"`
}

type presentationRequest struct {
	DID string `json:"did"`
	VP  string `json:"vp"`
}

type authorizeResponse struct {
	Verification token.Outcome    `json:"verification"`
	Decision     *policy.Decision `json:"decision"`
}

type presentationResponse struct {
	Result   *credential.PresentationResult `json:"result"`
	Decision *policy.Decision               `json:"decision,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.keys.Ping(ctx); err != nil {
		s.log.Warn("Key store not ready", "error", err)
		jsonError(w, "key store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		jsonError(w, "token is required", http.StatusBadRequest)
		return
	}

	outcome, _, err := s.verify(r.Context(), "http", req.Token, req.PublicKey)
	if err != nil {
		s.log.Error("Verification failed", "error", err)
		jsonError(w, "key store unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Tokens) > batch.MaxTokens {
		jsonError(w, "too many tokens", http.StatusRequestEntityTooLarge)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "batch.verify", telemetry.AttrBatchSize.Int(len(req.Tokens)))
	defer span.End()

	report, err := s.batch.Run(ctx, req.Tokens)
	if err != nil {
		telemetry.SetSpanError(span, err)
		s.log.Error("Batch verification failed", "error", err)
		jsonError(w, "batch verification failed", http.StatusBadGateway)
		return
	}
	telemetry.SetSpanOK(span)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.policy == nil {
		jsonError(w, "no authorization policy configured", http.StatusNotImplemented)
		return
	}

	var req authorizeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.log.Deny("Authorization request rejected", "error", err)
		jsonError(w, "Invalid request body: only token is accepted", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		jsonError(w, "token is required", http.StatusBadRequest)
		return
	}

	s.log.Section("AUTHORIZATION REQUEST")
	caller := spiffe.GetSPIFFEIDFromContext(r.Context())
	outcome, source, err := s.verify(r.Context(), "authorize", req.Token, "")
	if err != nil {
		s.log.Error("Verification failed", "error", err)
		jsonError(w, "key store unavailable", http.StatusBadGateway)
		return
	}

	decision, err := s.policy.Evaluate(r.Context(), outcome, source)
	if err != nil {
		s.log.Error("Policy evaluation failed", "error", err)
		jsonError(w, "Policy evaluation failed", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if decision.Allow {
		s.log.Allow(decision.Reason, "caller", caller, "subject", outcome.Claims.Subject())
	} else {
		s.log.Deny(decision.Reason, "caller", caller, "kid", outcome.Header.Kid)
		status = http.StatusForbidden
	}
	writeJSON(w, status, authorizeResponse{Verification: outcome, Decision: decision})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req challengeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := did.Parse(req.DID); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch, err := s.challenges.Issue(req.DID)
	if err != nil {
		s.log.Error("Failed to issue challenge", "did", req.DID, "error", err)
		jsonError(w, "failed to issue challenge", http.StatusInternalServerError)
		return
	}
	metrics.ChallengesIssued.Inc()
	s.log.Flow(logger.DirectionOutgoing, "Challenge issued", "did", req.DID, "expires_at", ch.ExpiresAt)
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handlePresentation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req presentationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DID == "" || req.VP == "" {
		jsonError(w, "did and vp are required", http.StatusBadRequest)
		return
	}

	s.log.Section("PRESENTATION")
	s.log.Flow(logger.DirectionIncoming, "Presentation received", "did", req.DID)

	ch, err := s.challenges.Consume(req.DID)
	switch {
	case errors.Is(err, challenge.ErrNoChallenge):
		metrics.PresentationsTotal.WithLabelValues("invalid", "no_challenge").Inc()
		s.log.Deny("No outstanding challenge", "did", req.DID)
		jsonError(w, "no outstanding challenge for did", http.StatusNotFound)
		return
	case errors.Is(err, challenge.ErrExpired):
		metrics.PresentationsTotal.WithLabelValues("invalid", "challenge_expired").Inc()
		s.log.Deny("Challenge expired", "did", req.DID)
		jsonError(w, "challenge expired", http.StatusGone)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "presentation.verify", telemetry.AttrHolder.String(req.DID))
	defer span.End()

	result, err := s.presentations.Verify(ctx, req.VP, credential.Expectations{Holder: req.DID, Nonce: ch.Nonce})
	if err != nil {
		telemetry.SetSpanError(span, err)
		s.log.Error("Presentation verification failed", "error", err)
		jsonError(w, "key store unavailable", http.StatusBadGateway)
		return
	}
	metrics.PresentationsTotal.WithLabelValues(metrics.ResultLabel(result.Valid), string(result.Reason)).Inc()
	span.SetAttributes(telemetry.AttrValid.Bool(result.Valid), telemetry.AttrReason.String(string(result.Reason)))

	if !result.Valid {
		s.log.Deny("Presentation rejected", "did", req.DID, "reason", result.Reason, "error", result.Error)
		writeJSON(w, http.StatusForbidden, presentationResponse{Result: result})
		return
	}

	resp := presentationResponse{Result: result}
	if s.policy != nil && result.Credential != nil {
		decision, err := s.policy.Evaluate(ctx, *result.Credential, policy.KeySourceKeyStore)
		if err != nil {
			s.log.Error("Policy evaluation failed", "error", err)
			jsonError(w, "Policy evaluation failed", http.StatusInternalServerError)
			return
		}
		resp.Decision = decision
		if !decision.Allow {
			s.log.Deny(decision.Reason, "holder", result.Holder)
			writeJSON(w, http.StatusForbidden, resp)
			return
		}
	}

	telemetry.SetSpanOK(span)
	s.log.Allow("Presentation accepted", "holder", result.Holder, "issuer", result.Issued.Issuer)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	kids, err := s.keys.List(r.Context())
	if err != nil {
		s.log.Error("Failed to list keys", "error", err)
		jsonError(w, "key store unavailable", http.StatusBadGateway)
		return
	}
	if kids == nil {
		kids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": kids, "count": len(kids)})
}

// verify checks raw against publicKey when given, otherwise against the key
// published for its header kid, and reports which of the two was used
func (s *Server) verify(ctx context.Context, source, raw, publicKey string) (token.Outcome, policy.KeySource, error) {
	ctx, span := telemetry.StartSpan(ctx, "token.verify",
		telemetry.AttrCallerSPIFFEID.String(spiffe.GetSPIFFEIDFromContext(ctx)),
	)
	defer span.End()

	start := time.Now()
	var outcome token.Outcome
	keySource := policy.KeySourceKeyStore
	if publicKey != "" {
		keySource = policy.KeySourceCaller
		outcome = s.verifier.VerifyToken(raw, publicKey)
	} else {
		var err error
		_, outcome, err = keystore.Verify(ctx, s.keys, s.verifier, raw)
		if err != nil {
			telemetry.SetSpanError(span, err)
			return token.Outcome{}, keySource, err
		}
	}
	metrics.ObserveVerification(source, outcome.Valid, string(outcome.Reason), time.Since(start))

	span.SetAttributes(
		telemetry.AttrKid.String(outcome.Header.Kid),
		telemetry.AttrValid.Bool(outcome.Valid),
		telemetry.AttrReason.String(string(outcome.Reason)),
	)
	if outcome.Valid {
		span.SetAttributes(
			telemetry.AttrIssuer.String(outcome.Claims.Issuer()),
			telemetry.AttrSubject.String(outcome.Claims.Subject()),
		)
		telemetry.SetSpanOK(span)
		s.log.Token(outcome.Header.Kid, "Token verified", "subject", outcome.Claims.Subject())
	} else {
		s.log.Token(outcome.Header.Kid, "Token rejected", "reason", outcome.Reason)
	}
	return outcome, keySource, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]any{"error": message, "reason": message})
}

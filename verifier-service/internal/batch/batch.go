// Package batch verifies many tokens concurrently under a single deadline
package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/redhat-et/did-jwt-verifier/pkg/keystore"
	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
	"github.com/redhat-et/did-jwt-verifier/pkg/metrics"
	"github.com/redhat-et/did-jwt-verifier/pkg/token"
)

const (
	// DefaultConcurrency is the number of verifications run at once
	DefaultConcurrency = 8
	// MaxTokens bounds a single batch
	MaxTokens = 1000
)

// VerifyFunc verifies one raw token. An error aborts the batch; an invalid
// token is reported through the outcome.
type VerifyFunc func(ctx context.Context, raw string) (token.Outcome, error)

// KeyStoreVerifier resolves keys by header kid from store
func KeyStoreVerifier(store keystore.KeyStore, v *token.Verifier) VerifyFunc {
	if v == nil {
		v = token.NewVerifier()
	}
	return func(ctx context.Context, raw string) (token.Outcome, error) {
		_, outcome, err := keystore.Verify(ctx, store, v, raw)
		return outcome, err
	}
}

// Item is the outcome for the token at Index in the input
type Item struct {
	Index   int           `json:"index"`
	Outcome token.Outcome `json:"outcome"`
}

// Report summarizes a batch run. Items are in input order.
type Report struct {
	ID       string        `json:"id"`
	Total    int           `json:"total"`
	Valid    int           `json:"valid"`
	Invalid  int           `json:"invalid"`
	Duration time.Duration `json:"duration_ns"`
	Results  []Item        `json:"results"`
}

// Runner runs batches with bounded concurrency
type Runner struct {
	verify      VerifyFunc
	concurrency int
	source      string
	log         *logger.Logger
}

// NewRunner creates a runner. source labels the verification metrics.
func NewRunner(verify VerifyFunc, concurrency int, source string, log *logger.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{verify: verify, concurrency: concurrency, source: source, log: log}
}

// Run verifies every token. It returns early with the context's error when
// ctx is done before all tokens are verified.
func (r *Runner) Run(ctx context.Context, tokens []string) (*Report, error) {
	if len(tokens) > MaxTokens {
		return nil, fmt.Errorf("batch of %d tokens exceeds the limit of %d", len(tokens), MaxTokens)
	}

	start := time.Now()
	report := &Report{
		ID:      strings.ReplaceAll(uuid.New().String(), "-", ""),
		Total:   len(tokens),
		Results: make([]Item, len(tokens)),
	}
	r.log.Info("Batch started", "id", report.ID, "tokens", len(tokens), "concurrency", r.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, raw := range tokens {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			began := time.Now()
			outcome, err := r.verify(gctx, raw)
			if err != nil {
				return fmt.Errorf("token %d: %w", i, err)
			}
			metrics.ObserveVerification(r.source, outcome.Valid, string(outcome.Reason), time.Since(began))
			report.Results[i] = Item{Index: i, Outcome: outcome}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Error("Batch aborted", "id", report.ID, "error", err)
		return nil, err
	}

	for _, item := range report.Results {
		if item.Outcome.Valid {
			report.Valid++
		} else {
			report.Invalid++
		}
	}
	report.Duration = time.Since(start)
	r.log.Success("Batch finished", "id", report.ID, "valid", report.Valid, "invalid", report.Invalid)
	return report, nil
}

// ReadTokens reads one token per line. Blank lines and lines starting with
// '#' are skipped.
func ReadTokens(r io.Reader) ([]string, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens: %w", err)
	}
	return tokens, nil
}

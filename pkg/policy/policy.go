// Package policy evaluates Rego authorization policies over verified tokens
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"

	"github.com/redhat-et/did-jwt-verifier/pkg/metrics"
	"github.com/redhat-et/did-jwt-verifier/pkg/telemetry"
	"github.com/redhat-et/did-jwt-verifier/pkg/token"
)

// DefaultQuery is the decision document of the bundled policy
const DefaultQuery = "data.credential.authorization.decision"

//go:embed policies/vehicle_authorization.rego
var defaultPolicy string

// Config selects the policy module and query
type Config struct {
	// File is a Rego module on disk; empty uses the bundled vehicle policy
	File string
	// Query names the decision document; empty uses DefaultQuery
	Query string
	// TrustedIssuers is published to the policy as data.trusted_issuers
	TrustedIssuers []string
}

// KeySource tells the policy where the verification key came from
type KeySource string

const (
	// KeySourceKeyStore means the key was resolved from the header kid
	KeySourceKeyStore KeySource = "keystore"
	// KeySourceCaller means the caller supplied the key with the token.
	// Such an outcome proves possession of that key and nothing more.
	KeySourceCaller KeySource = "caller"
)

// Decision is the result of a policy evaluation
type Decision struct {
	Allow   bool           `json:"allow"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

// Engine holds a prepared query
type Engine struct {
	name  string
	query rego.PreparedEvalQuery
}

// New compiles the configured policy
func New(ctx context.Context, cfg Config) (*Engine, error) {
	name := "vehicle_authorization.rego"
	module := defaultPolicy
	if cfg.File != "" {
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy: %w", err)
		}
		name = filepath.Base(cfg.File)
		module = string(data)
	}
	query := cfg.Query
	if query == "" {
		query = DefaultQuery
	}

	issuers := make([]any, 0, len(cfg.TrustedIssuers))
	for _, iss := range cfg.TrustedIssuers {
		issuers = append(issuers, iss)
	}
	store := inmem.NewFromObject(map[string]any{"trusted_issuers": issuers})

	prepared, err := rego.New(
		rego.Query(query),
		rego.Module(name, module),
		rego.Store(store),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}
	return &Engine{name: name, query: prepared}, nil
}

// Name returns the policy module name
func (e *Engine) Name() string {
	return e.name
}

// Input builds the policy input document for a verification outcome
func Input(outcome token.Outcome, source KeySource) map[string]any {
	input := map[string]any{
		"verification": map[string]any{
			"valid":      outcome.Valid,
			"reason":     string(outcome.Reason),
			"key_source": string(source),
		},
		"header": map[string]any{
			"kid": outcome.Header.Kid,
			"typ": outcome.Header.Typ,
			"alg": outcome.Header.Alg,
		},
	}
	claims := map[string]any{}
	if outcome.Valid {
		for k, v := range outcome.Claims {
			claims[k] = v
		}
	}
	input["claims"] = claims
	return input
}

// Evaluate runs the policy over a verification outcome whose key came from
// source. Claims of invalid tokens are never shown to the policy.
func (e *Engine) Evaluate(ctx context.Context, outcome token.Outcome, source KeySource) (*Decision, error) {
	ctx, span := telemetry.StartSpan(ctx, "policy.evaluate",
		telemetry.AttrPolicy.String(e.name),
		telemetry.AttrKid.String(outcome.Header.Kid),
	)
	defer span.End()

	start := time.Now()
	results, err := e.query.Eval(ctx, rego.EvalInput(Input(outcome, source)))
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	decision := decisionFrom(results)

	metrics.AuthorizationDuration.WithLabelValues(e.name).Observe(time.Since(start).Seconds())
	decisionLabel := "deny"
	if decision.Allow {
		decisionLabel = "allow"
	}
	metrics.AuthorizationDecisions.WithLabelValues(e.name, decisionLabel).Inc()

	span.SetAttributes(
		telemetry.AttrDecision.String(decisionLabel),
		telemetry.AttrReason.String(decision.Reason),
	)
	telemetry.SetSpanOK(span)
	return decision, nil
}

func decisionFrom(results rego.ResultSet) *Decision {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Decision{Reason: "No policy decision available"}
	}

	resultMap, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return &Decision{Reason: "Invalid policy result format"}
	}

	decision := &Decision{}
	if allow, ok := resultMap["allow"].(bool); ok {
		decision.Allow = allow
	}
	if reason, ok := resultMap["reason"].(string); ok {
		decision.Reason = reason
	}
	if details, ok := resultMap["details"].(map[string]any); ok {
		decision.Details = details
	}
	return decision
}

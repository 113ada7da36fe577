// Package metrics holds the Prometheus collectors exported on /metrics
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerificationsTotal counts token verifications by entry point and outcome
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "did_verifier_verifications_total",
		Help: "Total token verifications by source, result and reason",
	}, []string{"source", "result", "reason"})

	// VerificationDuration measures a single token verification
	VerificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "did_verifier_verification_duration_seconds",
		Help:    "Duration of token verification including key lookup",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"source"})

	// AuthorizationDecisions counts policy decisions
	AuthorizationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "did_verifier_authorization_decisions_total",
		Help: "Total policy decisions by policy and decision",
	}, []string{"policy", "decision"})

	// AuthorizationDuration measures policy evaluation
	AuthorizationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "did_verifier_authorization_duration_seconds",
		Help:    "Duration of policy evaluation",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"policy"})

	// ChallengesIssued counts nonces handed out to holders
	ChallengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "did_verifier_challenges_issued_total",
		Help: "Total presentation challenges issued",
	})

	// PresentationsTotal counts presentation verifications by outcome
	PresentationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "did_verifier_presentations_total",
		Help: "Total presentation verifications by result and reason",
	}, []string{"result", "reason"})

	// KeyLookups counts key store lookups by backend and result
	KeyLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "did_verifier_key_lookups_total",
		Help: "Total key store lookups by backend and result",
	}, []string{"backend", "result"})
)

// ResultLabel maps a validity flag to the "result" label value
func ResultLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

// ObserveVerification records one verification outcome
func ObserveVerification(source string, valid bool, reason string, d time.Duration) {
	VerificationsTotal.WithLabelValues(source, ResultLabel(valid), reason).Inc()
	VerificationDuration.WithLabelValues(source).Observe(d.Seconds())
}

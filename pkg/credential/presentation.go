package credential

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/redhat-et/did-jwt-verifier/pkg/did"
	"github.com/redhat-et/did-jwt-verifier/pkg/keystore"
	"github.com/redhat-et/did-jwt-verifier/pkg/token"
)

// Reason explains why a presentation was rejected. Token-level failures use
// the token.Reason value of the failing token.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonUnknownKey        Reason = Reason(keystore.ReasonUnknownKey)
	ReasonHolderMismatch    Reason = "holder_mismatch"
	ReasonNonceMismatch     Reason = "nonce_mismatch"
	ReasonMissingCredential Reason = "missing_credential"
	ReasonIssuerMismatch    Reason = "issuer_mismatch"
	ReasonSubjectMismatch   Reason = "subject_mismatch"
	ReasonNotPresentation   Reason = "not_presentation"
)

// Expectations are the verifier's side of the challenge
type Expectations struct {
	// Holder, when set, is the DID the challenge was issued to
	Holder string
	// Nonce is the challenge nonce the holder must have signed
	Nonce string
}

// PresentationResult is the outcome of verifying a presentation and the
// first credential it embeds
type PresentationResult struct {
	Valid        bool           `json:"valid"`
	Reason       Reason         `json:"reason,omitempty"`
	Error        string         `json:"error,omitempty"`
	Holder       string         `json:"holder,omitempty"`
	Presentation token.Outcome  `json:"presentation"`
	Credential   *token.Outcome `json:"credential,omitempty"`
	Issued       *Credential    `json:"issued,omitempty"`
}

func (r *PresentationResult) reject(reason Reason, format string, args ...any) *PresentationResult {
	r.Valid = false
	r.Reason = reason
	r.Error = fmt.Sprintf(format, args...)
	return r
}

// PresentationVerifier checks JWT presentations against keys from a KeyStore
type PresentationVerifier struct {
	keys     keystore.KeyStore
	verifier *token.Verifier
}

// NewPresentationVerifier creates a presentation verifier
func NewPresentationVerifier(keys keystore.KeyStore, verifier *token.Verifier) *PresentationVerifier {
	if verifier == nil {
		verifier = token.NewVerifier()
	}
	return &PresentationVerifier{keys: keys, verifier: verifier}
}

// nonceHeader carries the challenge nonce when signed into the protected header
type nonceHeader struct {
	Nonce string `json:"nonce"`
}

// Verify checks, in order: the holder's signature over the presentation,
// holder binding between kid and iss, the challenge nonce, and the issuer's
// signature over vp.verifiableCredential[0].
func (pv *PresentationVerifier) Verify(ctx context.Context, raw string, want Expectations) (*PresentationResult, error) {
	result := &PresentationResult{}

	segs, outcome, err := keystore.Verify(ctx, pv.keys, pv.verifier, raw)
	if err != nil {
		return nil, err
	}
	result.Presentation = outcome
	if !outcome.Valid {
		return result.reject(Reason(outcome.Reason), "presentation: %v", outcome.Err), nil
	}

	vp, ok := outcome.Claims["vp"].(map[string]any)
	if !ok {
		return result.reject(ReasonNotPresentation, "claims do not contain a verifiable presentation"), nil
	}

	holder := outcome.Claims.Issuer()
	if holder == "" {
		holder, _ = vp["holder"].(string)
	}
	result.Holder = holder
	if !did.SameSubject(outcome.Header.Kid, holder) {
		return result.reject(ReasonHolderMismatch, "kid %q is not a key of holder %q", outcome.Header.Kid, holder), nil
	}
	if want.Holder != "" && !did.SameSubject(want.Holder, holder) {
		return result.reject(ReasonHolderMismatch, "presentation holder %q does not match %q", holder, want.Holder), nil
	}

	if !nonceMatches(segs, outcome.Claims, want.Nonce) {
		return result.reject(ReasonNonceMismatch, "presentation nonce does not match challenge"), nil
	}

	vcs := stringList(vp["verifiableCredential"])
	if len(vcs) == 0 {
		return result.reject(ReasonMissingCredential, "presentation carries no JWT credential"), nil
	}

	_, vcOutcome, err := keystore.Verify(ctx, pv.keys, pv.verifier, vcs[0])
	if err != nil {
		return nil, err
	}
	result.Credential = &vcOutcome
	if !vcOutcome.Valid {
		return result.reject(Reason(vcOutcome.Reason), "credential: %v", vcOutcome.Err), nil
	}

	issued, err := FromClaims(vcOutcome.Claims)
	if err != nil {
		return result.reject(ReasonMissingCredential, "credential: %v", err), nil
	}
	result.Issued = issued
	if !did.SameSubject(vcOutcome.Header.Kid, issued.Issuer) {
		return result.reject(ReasonIssuerMismatch, "kid %q is not a key of issuer %q", vcOutcome.Header.Kid, issued.Issuer), nil
	}
	if issued.Subject != "" && !did.SameSubject(issued.Subject, holder) {
		return result.reject(ReasonSubjectMismatch, "credential subject %q is not the holder %q", issued.Subject, holder), nil
	}

	result.Valid = true
	return result, nil
}

// nonceMatches accepts the nonce from the protected header or the claims
func nonceMatches(segs *token.Segments, claims token.Claims, want string) bool {
	var h nonceHeader
	_ = json.Unmarshal(segs.Header, &h)
	got := h.Nonce
	if got == "" {
		got, _ = claims.String("nonce")
	}
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

package token

import (
	"crypto/ed25519"
	"fmt"
	"time"
)

// Verifier checks compact tokens against Ed25519 public keys. A Verifier
// holds no mutable state and is safe for concurrent use.
type Verifier struct {
	checkAlgorithm bool
	checkTime      bool
	leeway         time.Duration
	now            func() time.Time
}

// Option configures a Verifier
type Option func(*Verifier)

// WithAlgorithmCheck controls whether the header must declare alg "EdDSA".
// It is on by default.
func WithAlgorithmCheck(enabled bool) Option {
	return func(v *Verifier) {
		v.checkAlgorithm = enabled
	}
}

// WithTimeValidation enables exp/nbf checks with the given leeway
func WithTimeValidation(leeway time.Duration) Option {
	return func(v *Verifier) {
		v.checkTime = true
		v.leeway = leeway
	}
}

// WithClock overrides the time source used for exp/nbf checks
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		checkAlgorithm: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// DecodePublicKey decodes a base64url Ed25519 public key as published in a
// DID document's JWK "x" member.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := DecodeSegment(encoded)
	if err != nil {
		return nil, newError(ReasonInvalidEncoding, PartPublicKey, "", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, newError(ReasonInvalidKeyLength, PartPublicKey,
			fmt.Sprintf("got %d bytes, want %d", len(raw), ed25519.PublicKeySize), nil)
	}
	return ed25519.PublicKey(raw), nil
}

// VerifySignature checks signature over signingInput. Length problems are
// reported as structural errors before any curve arithmetic runs; every
// other failure is ErrCryptographicMismatch with no further detail.
func VerifySignature(signingInput, signature []byte, key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return newError(ReasonInvalidKeyLength, PartPublicKey,
			fmt.Sprintf("got %d bytes, want %d", len(key), ed25519.PublicKeySize), nil)
	}
	if len(signature) != ed25519.SignatureSize {
		return newError(ReasonInvalidSignatureLength, PartSignature,
			fmt.Sprintf("got %d bytes, want %d", len(signature), ed25519.SignatureSize), nil)
	}
	if !ed25519.Verify(key, signingInput, signature) {
		return newError(ReasonCryptographicMismatch, "", "", nil)
	}
	return nil
}

// VerifyToken decodes raw and publicKey and verifies the token
func (v *Verifier) VerifyToken(raw, publicKey string) Outcome {
	segs, err := Decode(raw)
	if err != nil {
		return invalidOutcome(Header{}, false, err)
	}
	key, err := DecodePublicKey(publicKey)
	if err != nil {
		return invalidOutcome(inspectHeader(segs), false, err)
	}
	return v.Verify(segs, key)
}

// VerifyTokenWithKey verifies raw against an already decoded key
func (v *Verifier) VerifyTokenWithKey(raw string, key ed25519.PublicKey) Outcome {
	segs, err := Decode(raw)
	if err != nil {
		return invalidOutcome(Header{}, false, err)
	}
	return v.Verify(segs, key)
}

// Verify checks decoded segments against key and, when the signature holds,
// decodes the claims.
func (v *Verifier) Verify(segs *Segments, key ed25519.PublicKey) Outcome {
	header, err := v.checkHeader(segs.Header)
	if err != nil {
		return invalidOutcome(header, false, err)
	}

	if err := VerifySignature(segs.SigningInput(), segs.Signature, key); err != nil {
		return invalidOutcome(header, false, err)
	}

	claims, err := ParseClaims(segs.Payload)
	if err != nil {
		return invalidOutcome(header, true, newError(ReasonMalformedClaims, PartPayload, "", err))
	}

	if v.checkTime {
		if err := v.checkValidity(claims); err != nil {
			return invalidOutcome(header, true, err)
		}
	}

	return validOutcome(header, claims)
}

// checkHeader parses the header. With the algorithm check off, parse
// failures are ignored and an empty Header is returned.
func (v *Verifier) checkHeader(raw []byte) (Header, error) {
	header, err := ParseHeader(raw)
	if !v.checkAlgorithm {
		return header, nil
	}
	if err != nil {
		return Header{}, newError(ReasonMalformedHeader, PartHeader, "", err)
	}
	if header.Alg != AlgorithmEdDSA {
		return header, newError(ReasonUnsupportedAlgorithm, PartHeader,
			fmt.Sprintf("alg %q", header.Alg), nil)
	}
	return header, nil
}

func (v *Verifier) checkValidity(claims Claims) error {
	now := v.now()
	if exp, ok := claims.NumericDate("exp"); ok && now.After(exp.Add(v.leeway)) {
		return newError(ReasonExpired, PartPayload, "", nil)
	}
	if nbf, ok := claims.NumericDate("nbf"); ok && now.Add(v.leeway).Before(nbf) {
		return newError(ReasonNotYetValid, PartPayload, "", nil)
	}
	return nil
}

func inspectHeader(segs *Segments) Header {
	h, _ := ParseHeader(segs.Header)
	return h
}

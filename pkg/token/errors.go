package token

import (
	"errors"
	"fmt"
)

// Reason identifies why a token failed verification
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonMalformedToken         Reason = "malformed_token"
	ReasonInvalidEncoding        Reason = "invalid_encoding"
	ReasonInvalidKeyLength       Reason = "invalid_key_length"
	ReasonInvalidSignatureLength Reason = "invalid_signature_length"
	ReasonMalformedHeader        Reason = "malformed_header"
	ReasonUnsupportedAlgorithm   Reason = "unsupported_algorithm"
	ReasonCryptographicMismatch  Reason = "cryptographic_mismatch"
	ReasonMalformedClaims        Reason = "malformed_claims"
	ReasonExpired                Reason = "expired"
	ReasonNotYetValid            Reason = "not_yet_valid"
)

// Part names the piece of input an error refers to
type Part string

const (
	PartToken     Part = "token"
	PartHeader    Part = "header"
	PartPayload   Part = "payload"
	PartSignature Part = "signature"
	PartPublicKey Part = "public key"
)

// Sentinel errors, one per reason, for use with errors.Is
var (
	ErrMalformedToken         = errors.New("malformed token")
	ErrInvalidEncoding        = errors.New("invalid base64url encoding")
	ErrInvalidKeyLength       = errors.New("invalid public key length")
	ErrInvalidSignatureLength = errors.New("invalid signature length")
	ErrMalformedHeader        = errors.New("malformed header")
	ErrUnsupportedAlgorithm   = errors.New("unsupported algorithm")
	ErrCryptographicMismatch  = errors.New("signature verification failed")
	ErrMalformedClaims        = errors.New("malformed claims")
	ErrExpired                = errors.New("token expired")
	ErrNotYetValid            = errors.New("token not yet valid")
)

var reasonSentinels = map[Reason]error{
	ReasonMalformedToken:         ErrMalformedToken,
	ReasonInvalidEncoding:        ErrInvalidEncoding,
	ReasonInvalidKeyLength:       ErrInvalidKeyLength,
	ReasonInvalidSignatureLength: ErrInvalidSignatureLength,
	ReasonMalformedHeader:        ErrMalformedHeader,
	ReasonUnsupportedAlgorithm:   ErrUnsupportedAlgorithm,
	ReasonCryptographicMismatch:  ErrCryptographicMismatch,
	ReasonMalformedClaims:        ErrMalformedClaims,
	ReasonExpired:                ErrExpired,
	ReasonNotYetValid:            ErrNotYetValid,
}

// Error is the typed error returned by every failing step of the pipeline.
// Detail never contains key or signature bytes.
type Error struct {
	Reason Reason
	Part   Part
	Detail string
	Err    error
}

func newError(reason Reason, part Part, detail string, err error) *Error {
	return &Error{Reason: reason, Part: part, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := e.sentinel().Error()
	if e.Part != "" {
		msg = fmt.Sprintf("%s: %s", e.Part, msg)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

// Unwrap exposes both the reason sentinel and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *Error) sentinel() error {
	if s, ok := reasonSentinels[e.Reason]; ok {
		return s
	}
	return errors.New(string(e.Reason))
}

// ReasonOf extracts the Reason carried by err, or ReasonNone
func ReasonOf(err error) Reason {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	return ReasonNone
}

// Package token decodes and verifies Ed25519-signed compact JWS tokens
// whose keys come from DID documents.
package token

import (
	"fmt"
	"strings"
)

const segmentSeparator = "."

// Segments holds the decoded parts of a compact token together with the
// encoded text they came from. The encoded text is what was signed.
type Segments struct {
	Header    []byte
	Payload   []byte
	Signature []byte

	RawHeader    string
	RawPayload   string
	RawSignature string
}

// SigningInput returns the bytes covered by the signature
func (s *Segments) SigningInput() []byte {
	return SigningInput(s.RawHeader, s.RawPayload)
}

// Decode splits a compact token into its three segments and base64url
// decodes each one. It does not interpret the JSON inside them.
func Decode(raw string) (*Segments, error) {
	parts := strings.Split(raw, segmentSeparator)
	if len(parts) != 3 {
		return nil, newError(ReasonMalformedToken, PartToken,
			fmt.Sprintf("expected 3 segments, got %d", len(parts)), nil)
	}

	names := [3]Part{PartHeader, PartPayload, PartSignature}
	var decoded [3][]byte
	for i, part := range parts {
		if part == "" {
			return nil, newError(ReasonMalformedToken, names[i], "empty segment", nil)
		}
		b, err := DecodeSegment(part)
		if err != nil {
			return nil, newError(ReasonInvalidEncoding, names[i], "", err)
		}
		decoded[i] = b
	}

	return &Segments{
		Header:       decoded[0],
		Payload:      decoded[1],
		Signature:    decoded[2],
		RawHeader:    parts[0],
		RawPayload:   parts[1],
		RawSignature: parts[2],
	}, nil
}

// SigningInput joins the encoded header and payload exactly as received
func SigningInput(headerEncoded, payloadEncoded string) []byte {
	b := make([]byte, 0, len(headerEncoded)+len(segmentSeparator)+len(payloadEncoded))
	b = append(b, headerEncoded...)
	b = append(b, segmentSeparator...)
	b = append(b, payloadEncoded...)
	return b
}

package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"time"
	"unicode/utf8"
)

// AlgorithmEdDSA is the only JWS algorithm this package verifies
const AlgorithmEdDSA = "EdDSA"

// Header holds the protected header fields callers usually inspect
type Header struct {
	Kid string `json:"kid,omitempty"`
	Typ string `json:"typ,omitempty"`
	Alg string `json:"alg,omitempty"`
}

// ParseHeader decodes a JSON header. It does not check any field values.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if err := unmarshalObject(b, &h); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Claims is the decoded payload of a verified token
type Claims map[string]any

// ParseClaims decodes a payload into Claims. The payload must be UTF-8
// text holding a single JSON object.
func ParseClaims(payload []byte) (Claims, error) {
	if !utf8.Valid(payload) {
		return nil, errors.New("payload is not valid UTF-8")
	}
	var c Claims
	if err := unmarshalObject(payload, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func unmarshalObject(b []byte, v any) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("not a JSON object")
	}
	return json.Unmarshal(trimmed, v)
}

// String returns the claim named key when it is a string
func (c Claims) String(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}

// Issuer returns the "iss" claim
func (c Claims) Issuer() string {
	s, _ := c.String("iss")
	return s
}

// Subject returns the "sub" claim
func (c Claims) Subject() string {
	s, _ := c.String("sub")
	return s
}

// NumericDate reads a claim holding seconds since the epoch
func (c Claims) NumericDate(key string) (time.Time, bool) {
	f, ok := c[key].(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// Package credential interprets verified token claims as W3C verifiable
// credentials (JWT "vc" claim) and presentations (JWT "vp" claim).
package credential

import (
	"errors"
	"fmt"

	"github.com/PaesslerAG/jsonpath"

	"github.com/redhat-et/did-jwt-verifier/pkg/token"
)

// TypeVerifiableCredential is the base type every credential carries
const TypeVerifiableCredential = "VerifiableCredential"

// ErrNotCredential is returned when claims carry no "vc" object
var ErrNotCredential = errors.New("claims do not contain a verifiable credential")

// Credential is a view over the claims of a JWT-encoded credential
type Credential struct {
	ID                string         `json:"id,omitempty"`
	Issuer            string         `json:"issuer"`
	Subject           string         `json:"subject,omitempty"`
	Context           []string       `json:"@context,omitempty"`
	Types             []string       `json:"type"`
	CredentialSubject map[string]any `json:"credentialSubject,omitempty"`
}

// FromClaims builds a Credential from verified claims
func FromClaims(claims token.Claims) (*Credential, error) {
	vc, ok := claims["vc"].(map[string]any)
	if !ok {
		return nil, ErrNotCredential
	}

	c := &Credential{
		Issuer:  claims.Issuer(),
		Subject: claims.Subject(),
		Context: stringList(vc["@context"]),
		Types:   stringList(vc["type"]),
	}
	c.ID, _ = claims.String("jti")
	if id, ok := vc["id"].(string); ok && c.ID == "" {
		c.ID = id
	}
	if subject, ok := vc["credentialSubject"].(map[string]any); ok {
		c.CredentialSubject = subject
		if id, ok := subject["id"].(string); ok && c.Subject == "" {
			c.Subject = id
		}
	}
	return c, nil
}

// HasType reports whether the credential declares the given type
func (c *Credential) HasType(t string) bool {
	for _, have := range c.Types {
		if have == t {
			return true
		}
	}
	return false
}

// Lookup evaluates a JSONPath expression such as
// "$.vc.credentialSubject.vehicle.authorized" against the claims.
func Lookup(claims token.Claims, path string) (any, error) {
	v, err := jsonpath.Get(path, map[string]any(claims))
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}
	return v, nil
}

// LookupBool is Lookup for boolean claims. Missing paths and non-boolean
// values report false.
func LookupBool(claims token.Claims, path string) bool {
	v, err := Lookup(claims, path)
	if err != nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// stringList accepts a JSON string or array of strings
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

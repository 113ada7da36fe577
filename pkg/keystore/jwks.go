package keystore

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// didDocument is the subset of a DID document carrying JWK verification methods
type didDocument struct {
	ID                 string               `json:"id"`
	VerificationMethod []verificationMethod `json:"verificationMethod"`
}

type verificationMethod struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Controller   string           `json:"controller"`
	PublicKeyJwk *jose.JSONWebKey `json:"publicKeyJwk"`
}

// ParseKeySet reads Ed25519 keys from a JWKS document or from the
// verificationMethod list of a DID document. The result maps kid to the
// unpadded base64url public key.
func ParseKeySet(data []byte) (map[string]string, error) {
	var probe struct {
		Keys               json.RawMessage `json:"keys"`
		VerificationMethod json.RawMessage `json:"verificationMethod"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse key set: %w", err)
	}

	switch {
	case probe.Keys != nil:
		return parseJWKS(data)
	case probe.VerificationMethod != nil:
		return parseDIDDocument(data)
	default:
		return nil, fmt.Errorf("key set has neither \"keys\" nor \"verificationMethod\"")
	}
}

func parseJWKS(data []byte) (map[string]string, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]string, len(set.Keys))
	for i, jwk := range set.Keys {
		if jwk.KeyID == "" {
			return nil, fmt.Errorf("JWKS key %d has no kid", i)
		}
		encoded, err := encodeJWK(jwk)
		if err != nil {
			return nil, fmt.Errorf("JWKS key %q: %w", jwk.KeyID, err)
		}
		keys[jwk.KeyID] = encoded
	}
	return keys, nil
}

func parseDIDDocument(data []byte) (map[string]string, error) {
	var doc didDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse DID document: %w", err)
	}

	keys := make(map[string]string, len(doc.VerificationMethod))
	for i, vm := range doc.VerificationMethod {
		if vm.PublicKeyJwk == nil {
			continue
		}
		kid := vm.ID
		// Relative ids ("#key-1") are resolved against the document id
		if strings.HasPrefix(kid, "#") {
			kid = doc.ID + kid
		}
		if kid == "" {
			return nil, fmt.Errorf("verification method %d has no id", i)
		}
		encoded, err := encodeJWK(*vm.PublicKeyJwk)
		if err != nil {
			return nil, fmt.Errorf("verification method %q: %w", kid, err)
		}
		keys[kid] = encoded
	}
	return keys, nil
}

func encodeJWK(jwk jose.JSONWebKey) (string, error) {
	pub, ok := jwk.Key.(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("unsupported key type %T, expected Ed25519", jwk.Key)
	}
	return base64.RawURLEncoding.EncodeToString(pub), nil
}

// MarshalKeySet renders keys as a JWKS document, sorted by kid
func MarshalKeySet(keys map[string]string) ([]byte, error) {
	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(kids))}
	for _, kid := range kids {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(keys[kid], "="))
		if err != nil {
			return nil, fmt.Errorf("key %q: invalid encoding: %w", kid, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("key %q: expected %d bytes, got %d", kid, ed25519.PublicKeySize, len(raw))
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       ed25519.PublicKey(raw),
			KeyID:     kid,
			Algorithm: string(jose.EdDSA),
			Use:       "sig",
		})
	}
	return json.MarshalIndent(set, "", "  ")
}

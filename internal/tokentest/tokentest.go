// Package tokentest mints Ed25519 tokens for tests. Tokens are produced by
// third-party JOSE libraries so tests never verify a token with the same
// code that built it.
package tokentest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Sample token and key from the vehicle authorization demo. The credential
// subject carries vehicle.authorized == true.
const (
	SampleToken = "eyJraWQiOiJkaWQ6aW90YTp0c3Q6MHhmOWIxYThhZDgxOGUxZThmZDI1MDRhYmNhODkzZWQ5ZjA2MTgxODVhZjliZmUyMTQ4ZjkzMzhkMzMwODc0NGMxI2tleS1pc3N1ZXIiLCJ0eXAiOiJKV1QiLCJhbGciOiJFZERTQSJ9." +
		"eyJpc3MiOiJkaWQ6aW90YTp0c3Q6MHhmOWIxYThhZDgxOGUxZThmZDI1MDRhYmNhODkzZWQ5ZjA2MTgxODVhZjliZmUyMTQ4ZjkzMzhkMzMwODc0NGMxIiwibmJmIjoxNzUxNjIxMTMyLCJqdGkiOiJodHRwczovL2V4YW1wbGUub3JnL2NyZWRlbnRpYWxzL3ZlaGljbGUtYXV0aCIsInN1YiI6ImRpZDppb3RhOnRzdDoweDA4ODczOWZlMTg1NjY5NGIzMDA4OGYzODk2NWQ2YjU3ZDdlNTczZDExMzBhNWRhMDZlYzRmN2M4ZmUxNTE4ZTEiLCJ2YyI6eyJAY29udGV4dCI6WyJodHRwczovL3d3dy53My5vcmcvMjAxOC9jcmVkZW50aWFscy92MSJdLCJ0eXBlIjpbIlZlcmlmaWFibGVDcmVkZW50aWFsIiwiVmVoaWNsZUF1dGhvcml6YXRpb24iXSwiY3JlZGVudGlhbFN1YmplY3QiOnsidmVoaWNsZSI6eyJhdXRob3JpemVkIjp0cnVlLCJtcXR0X3RvcGljIjoibXF0dC90b3BpYy92ZWhpY2xlIn19fX0." +
		"136HybgOsQSMp3UZ19EBKGQu0YYsOX3fjaTpknOfayjULmcRj7Z7yFK3AMHPZLydqou-8atQSdHncdFbCPL9Cg"
	SampleKey    = "-xb0ktZIWDlxtAd86yiQSRrS7bkB3m2xnKPKwB_V7qo"
	SampleKid    = "did:iota:tst:0xf9b1a8ad818e1e8fd2504abca893ed9f0618185af9bfe2148f9338d3308744c1#key-issuer"
	SampleIssuer = "did:iota:tst:0xf9b1a8ad818e1e8fd2504abca893ed9f0618185af9bfe2148f9338d3308744c1"
)

// KeyPair holds an Ed25519 key pair and the kid it is published under
type KeyPair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Kid        string
}

// GenerateKeyPair creates a new Ed25519 key pair for testing
func GenerateKeyPair(t testing.TB, kid string) *KeyPair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate Ed25519 key: %v", err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: pub, Kid: kid}
}

// EncodedPublicKey returns the public key as unpadded base64url, the form
// used for the "x" member of an OKP JWK.
func (k *KeyPair) EncodedPublicKey() string {
	return base64.RawURLEncoding.EncodeToString(k.PublicKey)
}

// JWK returns the public key as a go-jose JSON Web Key
func (k *KeyPair) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.PublicKey,
		KeyID:     k.Kid,
		Algorithm: string(jose.EdDSA),
		Use:       "sig",
	}
}

// JWKS renders the given key pairs as a JWKS document
func JWKS(t testing.TB, pairs ...*KeyPair) []byte {
	t.Helper()
	set := jose.JSONWebKeySet{}
	for _, p := range pairs {
		set.Keys = append(set.Keys, p.JWK())
	}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("Failed to marshal JWKS: %v", err)
	}
	return data
}

// TokenBuilder provides a fluent API for building test tokens
type TokenBuilder struct {
	t       testing.TB
	keyPair *KeyPair
	claims  jwt.MapClaims
	alg     jwt.SigningMethod
}

// NewTokenBuilder creates a builder with an issuer claim matching the kid
func NewTokenBuilder(t testing.TB, keyPair *KeyPair) *TokenBuilder {
	t.Helper()
	return &TokenBuilder{
		t:       t,
		keyPair: keyPair,
		claims: jwt.MapClaims{
			"iss": "did:example:issuer",
			"iat": time.Now().Unix(),
		},
		alg: jwt.SigningMethodEdDSA,
	}
}

// WithClaim sets a single claim
func (b *TokenBuilder) WithClaim(key string, value any) *TokenBuilder {
	b.claims[key] = value
	return b
}

// WithIssuer sets the issuer claim
func (b *TokenBuilder) WithIssuer(iss string) *TokenBuilder {
	return b.WithClaim("iss", iss)
}

// WithSubject sets the subject claim
func (b *TokenBuilder) WithSubject(sub string) *TokenBuilder {
	return b.WithClaim("sub", sub)
}

// ExpiresIn sets exp relative to now
func (b *TokenBuilder) ExpiresIn(d time.Duration) *TokenBuilder {
	return b.WithClaim("exp", time.Now().Add(d).Unix())
}

// NotBefore sets nbf
func (b *TokenBuilder) NotBefore(at time.Time) *TokenBuilder {
	return b.WithClaim("nbf", at.Unix())
}

// WithVehicleCredential adds a VehicleAuthorization credential
func (b *TokenBuilder) WithVehicleCredential(authorized bool) *TokenBuilder {
	return b.WithClaim("vc", map[string]any{
		"@context": []string{"https://www.w3.org/2018/credentials/v1"},
		"type":     []string{"VerifiableCredential", "VehicleAuthorization"},
		"credentialSubject": map[string]any{
			"vehicle": map[string]any{
				"authorized": authorized,
				"mqtt_topic": "mqtt/topic/vehicle",
			},
		},
	})
}

// Build signs the token with golang-jwt
func (b *TokenBuilder) Build() string {
	b.t.Helper()
	tok := jwt.NewWithClaims(b.alg, b.claims)
	tok.Header["kid"] = b.keyPair.Kid
	s, err := tok.SignedString(b.keyPair.PrivateKey)
	if err != nil {
		b.t.Fatalf("Failed to sign token: %v", err)
	}
	return s
}

// BuildWithJose signs the token with go-jose instead of golang-jwt
func (b *TokenBuilder) BuildWithJose() string {
	b.t.Helper()
	payload, err := json.Marshal(b.claims)
	if err != nil {
		b.t.Fatalf("Failed to marshal claims: %v", err)
	}
	return SignPayload(b.t, b.keyPair, payload, nil)
}

// SignPayload signs arbitrary payload bytes with EdDSA via go-jose. Extra
// header members are added to the protected header.
func SignPayload(t testing.TB, keyPair *KeyPair, payload []byte, extra map[string]any) string {
	t.Helper()
	opts := (&jose.SignerOptions{}).WithType("JWT")
	if keyPair.Kid != "" {
		opts = opts.WithHeader("kid", keyPair.Kid)
	}
	for k, v := range extra {
		opts = opts.WithHeader(jose.HeaderKey(k), v)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: keyPair.PrivateKey}, opts)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Failed to sign payload: %v", err)
	}
	s, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("Failed to serialize JWS: %v", err)
	}
	return s
}

// SignRaw signs an arbitrary header and payload with the private key
// directly, for inputs no JOSE library would produce.
func SignRaw(keyPair *KeyPair, header, payload []byte) string {
	h := base64.RawURLEncoding.EncodeToString(header)
	p := base64.RawURLEncoding.EncodeToString(payload)
	sig := ed25519.Sign(keyPair.PrivateKey, []byte(h+"."+p))
	return h + "." + p + "." + base64.RawURLEncoding.EncodeToString(sig)
}

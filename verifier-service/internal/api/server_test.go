package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-et/did-jwt-verifier/internal/tokentest"
	"github.com/redhat-et/did-jwt-verifier/pkg/challenge"
	"github.com/redhat-et/did-jwt-verifier/pkg/keystore"
	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
	"github.com/redhat-et/did-jwt-verifier/pkg/policy"
)

const (
	issuerDID = "did:iota:tst:0xissuer"
	holderDID = "did:iota:tst:0xholder"
)

type testEnv struct {
	issuer *tokentest.KeyPair
	holder *tokentest.KeyPair
	keys   *keystore.MemoryStore
	server *Server
	mux    http.Handler
}

func newTestEnv(t *testing.T, withPolicy bool) *testEnv {
	t.Helper()
	env := &testEnv{
		issuer: tokentest.GenerateKeyPair(t, issuerDID+"#key-issuer"),
		holder: tokentest.GenerateKeyPair(t, holderDID+"#key-holder"),
	}
	env.keys = keystore.NewMemoryStore(map[string]string{
		tokentest.SampleKid: tokentest.SampleKey,
		env.issuer.Kid:      env.issuer.EncodedPublicKey(),
		env.holder.Kid:      env.holder.EncodedPublicKey(),
	})

	var engine *policy.Engine
	if withPolicy {
		var err error
		engine, err = policy.New(context.Background(), policy.Config{
			TrustedIssuers: []string{issuerDID, tokentest.SampleIssuer},
		})
		require.NoError(t, err)
	}

	env.server = New(Options{
		Keys:       env.keys,
		Policy:     engine,
		Challenges: challenge.NewStore(challenge.Config{}),
		Log:        logger.NewWithWriter(logger.ComponentGateway, io.Discard, false),
	})
	env.mux = env.server.Routes()
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (env *testEnv) credential(t *testing.T, authorized bool) string {
	t.Helper()
	return tokentest.NewTokenBuilder(t, env.issuer).
		WithIssuer(issuerDID).
		WithSubject(holderDID).
		WithVehicleCredential(authorized).
		Build()
}

func (env *testEnv) presentation(t *testing.T, nonce string, vc string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"iss": holderDID,
		"vp": map[string]any{
			"type":                 []string{"VerifiablePresentation"},
			"verifiableCredential": []string{vc},
		},
	})
	require.NoError(t, err)
	return tokentest.SignPayload(t, env.holder, payload, map[string]any{"nonce": nonce})
}

func TestVerifyWithExplicitKey(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/verify", verifyRequest{Token: tokentest.SampleToken, PublicKey: tokentest.SampleKey})
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, true, out["valid"])
	claims := out["claims"].(map[string]any)
	assert.Equal(t, tokentest.SampleIssuer, claims["iss"])
}

func TestVerifyLooksUpKid(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/verify", verifyRequest{Token: tokentest.SampleToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])

	stranger := tokentest.GenerateKeyPair(t, "did:example:stranger#key-1")
	rec = env.do(t, http.MethodPost, "/v1/verify", verifyRequest{Token: tokentest.NewTokenBuilder(t, stranger).Build()})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, false, out["valid"])
	assert.Equal(t, "unknown_key", out["reason"])
}

func TestVerifyTamperedToken(t *testing.T) {
	env := newTestEnv(t, false)
	tampered := tokentest.SampleToken[:len(tokentest.SampleToken)-1] + "A"

	rec := env.do(t, http.MethodPost, "/v1/verify", verifyRequest{Token: tampered, PublicKey: tokentest.SampleKey})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, false, out["valid"])
	assert.Equal(t, "cryptographic_mismatch", out["reason"])
	assert.NotContains(t, out, "claims")
}

func TestVerifyBadRequests(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/v1/verify", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/verify", bytes.NewBufferString("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/v1/verify", verifyRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingStore struct{ keystore.KeyStore }

func (failingStore) Lookup(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (failingStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestVerifyStoreFailure(t *testing.T) {
	server := New(Options{
		Keys: failingStore{},
		Log:  logger.NewWithWriter(logger.ComponentGateway, io.Discard, false),
	})

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(verifyRequest{Token: tokentest.SampleToken}))
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/verify", &buf))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = httptest.NewRecorder()
	server.HealthRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBatch(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/verify/batch", batchRequest{Tokens: []string{tokentest.SampleToken, "a.b"}})
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.EqualValues(t, 2, out["total"])
	assert.EqualValues(t, 1, out["valid"])
	results := out["results"].([]any)
	require.Len(t, results, 2)
	second := results[1].(map[string]any)["outcome"].(map[string]any)
	assert.Equal(t, "malformed_token", second["reason"])
}

func TestAuthorize(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/v1/authorize", authorizeRequest{Token: tokentest.SampleToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decision := decode(t, rec)["decision"].(map[string]any)
	assert.Equal(t, true, decision["allow"])
	assert.Equal(t, "vehicle authorized", decision["reason"])

	rec = env.do(t, http.MethodPost, "/v1/authorize", authorizeRequest{Token: env.credential(t, false)})
	require.Equal(t, http.StatusForbidden, rec.Code)
	decision = decode(t, rec)["decision"].(map[string]any)
	assert.Equal(t, "vehicle is not authorized", decision["reason"])
}

func TestAuthorizeIgnoresCallerSuppliedKey(t *testing.T) {
	env := newTestEnv(t, true)

	// A credential signed with the attacker's own key under the issuer's kid
	attacker := tokentest.GenerateKeyPair(t, env.issuer.Kid)
	forged := tokentest.NewTokenBuilder(t, attacker).
		WithIssuer(issuerDID).
		WithSubject(holderDID).
		WithVehicleCredential(true).
		Build()

	rec := env.do(t, http.MethodPost, "/v1/authorize", verifyRequest{Token: forged, PublicKey: attacker.EncodedPublicKey()})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "vehicle authorized")

	rec = env.do(t, http.MethodPost, "/v1/authorize", authorizeRequest{Token: forged})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, false, out["verification"].(map[string]any)["valid"])
	assert.Equal(t, "cryptographic_mismatch", out["verification"].(map[string]any)["reason"])
	assert.Equal(t, false, out["decision"].(map[string]any)["allow"])
}

func TestAuthorizeIssuerRules(t *testing.T) {
	env := newTestEnv(t, true)

	// The holder's key is in the store but the holder is not a trusted issuer
	untrusted := tokentest.NewTokenBuilder(t, env.holder).
		WithIssuer(holderDID).
		WithSubject("did:iota:tst:0xvehicle").
		WithVehicleCredential(true).
		Build()
	rec := env.do(t, http.MethodPost, "/v1/authorize", authorizeRequest{Token: untrusted})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, "issuer is not trusted", decode(t, rec)["decision"].(map[string]any)["reason"])

	selfIssued := tokentest.NewTokenBuilder(t, env.issuer).
		WithIssuer(issuerDID).
		WithSubject(issuerDID).
		WithVehicleCredential(true).
		Build()
	rec = env.do(t, http.MethodPost, "/v1/authorize", authorizeRequest{Token: selfIssued})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, "credential is self-issued", decode(t, rec)["decision"].(map[string]any)["reason"])
}

func TestAuthorizeWithoutPolicy(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/v1/authorize", authorizeRequest{Token: tokentest.SampleToken})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestChallengeAndPresentation(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/v1/challenges", challengeRequest{DID: holderDID})
	require.Equal(t, http.StatusCreated, rec.Code)
	nonce, _ := decode(t, rec)["nonce"].(string)
	require.NotEmpty(t, nonce)

	vp := env.presentation(t, nonce, env.credential(t, true))
	rec = env.do(t, http.MethodPost, "/v1/presentations", presentationRequest{DID: holderDID, VP: vp})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	result := out["result"].(map[string]any)
	assert.Equal(t, true, result["valid"])
	assert.Equal(t, holderDID, result["holder"])
	assert.Equal(t, true, out["decision"].(map[string]any)["allow"])

	// the challenge is single use
	rec = env.do(t, http.MethodPost, "/v1/presentations", presentationRequest{DID: holderDID, VP: vp})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPresentationWrongNonce(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/challenges", challengeRequest{DID: holderDID})
	require.Equal(t, http.StatusCreated, rec.Code)

	vp := env.presentation(t, "not-the-nonce", env.credential(t, true))
	rec = env.do(t, http.MethodPost, "/v1/presentations", presentationRequest{DID: holderDID, VP: vp})
	require.Equal(t, http.StatusForbidden, rec.Code)
	result := decode(t, rec)["result"].(map[string]any)
	assert.Equal(t, false, result["valid"])
	assert.Equal(t, "nonce_mismatch", result["reason"])
}

func TestPresentationDeniedByPolicy(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/v1/challenges", challengeRequest{DID: holderDID})
	require.Equal(t, http.StatusCreated, rec.Code)
	nonce := decode(t, rec)["nonce"].(string)

	vp := env.presentation(t, nonce, env.credential(t, false))
	rec = env.do(t, http.MethodPost, "/v1/presentations", presentationRequest{DID: holderDID, VP: vp})
	require.Equal(t, http.StatusForbidden, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["result"].(map[string]any)["valid"])
	assert.Equal(t, false, out["decision"].(map[string]any)["allow"])
}

func TestChallengeRejectsInvalidDID(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/challenges", challengeRequest{DID: "not-a-did"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/presentations", presentationRequest{DID: holderDID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeys(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/v1/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.EqualValues(t, 3, out["count"])
	assert.Contains(t, out["keys"], tokentest.SampleKid)

	rec = env.do(t, http.MethodPost, "/v1/keys", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthRoutes(t *testing.T) {
	env := newTestEnv(t, false)
	health := env.server.HealthRoutes()

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

package spiffe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
)

func TestMockModeServerIsPlainHTTP(t *testing.T) {
	log := logger.NewWithWriter(logger.ComponentMTLS, io.Discard, false)
	client := NewWorkloadClient(Config{MockMode: true, TrustDomain: "demo.example.com"}, log)
	client.SetMockIdentity("spiffe://demo.example.com/service/verifier")

	identity, err := client.FetchIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "spiffe://demo.example.com/service/verifier", identity.SPIFFEID)

	server := client.CreateHTTPServer(":0", http.NotFoundHandler())
	assert.Nil(t, server.TLSConfig)
	assert.NoError(t, client.Close())
}

func TestIdentityMiddlewareMockHeader(t *testing.T) {
	var seen string
	handler := IdentityMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetSPIFFEIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-SPIFFE-ID", "spiffe://demo.example.com/gateway")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "spiffe://demo.example.com/gateway", seen)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "", seen)
}

func TestIdentityMiddlewareIgnoresHeaderOutsideMockMode(t *testing.T) {
	var seen string
	handler := IdentityMiddleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetSPIFFEIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-SPIFFE-ID", "spiffe://demo.example.com/forged")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "", seen)
}

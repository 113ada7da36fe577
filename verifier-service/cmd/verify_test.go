package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-et/did-jwt-verifier/internal/tokentest"
)

func execute(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	t.Cleanup(func() {
		verifyToken, verifyTokenFile, verifyPublicKey, verifyJWKSFile = "", "", "", ""
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	var outcome map[string]any
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &outcome))
	}
	return outcome, err
}

func TestVerifyCommandWithPublicKey(t *testing.T) {
	outcome, err := execute(t, "verify", "--token", tokentest.SampleToken, "--public-key", tokentest.SampleKey)
	require.NoError(t, err)
	assert.Equal(t, true, outcome["valid"])
}

func TestVerifyCommandWithJWKSFile(t *testing.T) {
	kp := tokentest.GenerateKeyPair(t, "did:example:issuer#key-1")
	dir := t.TempDir()
	jwks := filepath.Join(dir, "jwks.json")
	require.NoError(t, os.WriteFile(jwks, tokentest.JWKS(t, kp), 0o600))
	tokenFile := filepath.Join(dir, "token.jwt")
	require.NoError(t, os.WriteFile(tokenFile, []byte(tokentest.NewTokenBuilder(t, kp).Build()+"\n"), 0o600))

	outcome, err := execute(t, "verify", "--token-file", tokenFile, "--jwks-file", jwks)
	require.NoError(t, err)
	assert.Equal(t, true, outcome["valid"])
}

func TestVerifyCommandInvalidToken(t *testing.T) {
	tampered := tokentest.SampleToken[:len(tokentest.SampleToken)-1] + "A"
	outcome, err := execute(t, "verify", "--token", tampered, "--public-key", tokentest.SampleKey)
	require.Error(t, err)
	assert.Equal(t, false, outcome["valid"])
	assert.Equal(t, "cryptographic_mismatch", outcome["reason"])
}

func TestReadTokenRequiresInput(t *testing.T) {
	_, err := readToken("", "")
	assert.Error(t, err)

	tok, err := readToken("  abc.def.ghi\n", "")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("HOST", "")
	v := InitViper("verifier-service")
	v.AddConfigPath(t.TempDir())

	var cfg CommonConfig
	require.NoError(t, Load(v, &cfg))

	assert.Equal(t, "0.0.0.0:8080", cfg.Service.Addr())
	assert.Equal(t, "0.0.0.0:8180", cfg.Service.HealthAddr())
	assert.True(t, cfg.Service.MockSPIFFE)
	assert.Equal(t, "text", cfg.Service.LogFormat)
	assert.Equal(t, 1.0, cfg.OTel.SampleRatio)
	assert.Equal(t, "memory", cfg.KeyStore.Source)
	assert.Equal(t, 5*time.Minute, cfg.KeyStore.RefreshInterval)
	assert.Equal(t, 10*time.Second, cfg.KeyStore.MinRefetchInterval)
	assert.Empty(t, cfg.Policy.TrustedIssuers)
	assert.Equal(t, "keys.json", cfg.KeyStore.Storage.ObjectKey)
	assert.True(t, cfg.Verification.RequireEdDSA)
	assert.False(t, cfg.Verification.CheckTime)
	assert.Equal(t, 60*time.Second, cfg.Challenge.TTL)
	assert.Equal(t, 10000, cfg.Challenge.Capacity)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DID_VERIFIER_KEYSTORE_SOURCE", "remote")
	t.Setenv("DID_VERIFIER_KEYSTORE_URL", "https://issuer.example.com/.well-known/jwks.json")
	t.Setenv("DID_VERIFIER_CHALLENGE_TTL", "30s")
	t.Setenv("DID_VERIFIER_VERIFICATION_CHECK_TIME", "true")
	t.Setenv("PORT", "9090")

	v := InitViper("verifier-service")
	var cfg CommonConfig
	require.NoError(t, Load(v, &cfg))

	assert.Equal(t, "remote", cfg.KeyStore.Source)
	assert.Equal(t, "https://issuer.example.com/.well-known/jwks.json", cfg.KeyStore.URL)
	assert.Equal(t, 30*time.Second, cfg.Challenge.TTL)
	assert.True(t, cfg.Verification.CheckTime)
	assert.Equal(t, 9090, cfg.Service.Port)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
keystore:
  source: file
  file: /etc/did-verifier/did.json
policy:
  query: data.gateway.decision
  trusted_issuers:
    - did:iota:tst:0xissuer
    - did:web:issuer.example.com
verification:
  leeway: 2m
`), 0o600))

	v := InitViper("verifier-service")
	v.SetConfigFile(path)
	var cfg CommonConfig
	require.NoError(t, Load(v, &cfg))

	assert.Equal(t, "file", cfg.KeyStore.Source)
	assert.Equal(t, "/etc/did-verifier/did.json", cfg.KeyStore.File)
	assert.Equal(t, "data.gateway.decision", cfg.Policy.Query)
	assert.Equal(t, []string{"did:iota:tst:0xissuer", "did:web:issuer.example.com"}, cfg.Policy.TrustedIssuers)
	assert.Equal(t, 2*time.Minute, cfg.Verification.Leeway)
}

func TestInvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keystore: [unclosed"), 0o600))

	v := InitViper("verifier-service")
	v.SetConfigFile(path)
	var cfg CommonConfig
	assert.Error(t, Load(v, &cfg))
}

func TestBindFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := InitViper("verifier-service")
	BindFlags(cmd, v)

	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--keystore-source", "s3", "--require-eddsa=false", "-p", "7000"}))

	var cfg CommonConfig
	require.NoError(t, Load(v, &cfg))
	assert.Equal(t, "s3", cfg.KeyStore.Source)
	assert.False(t, cfg.Verification.RequireEdDSA)
	assert.Equal(t, 7000, cfg.Service.Port)
}

func TestLoadStorageConfigFromEnv(t *testing.T) {
	t.Setenv("BUCKET_HOST", "s3.openshift-storage.svc")
	t.Setenv("BUCKET_PORT", "443")
	t.Setenv("BUCKET_NAME", "keys-abc123")

	cfg := StorageConfig{BucketHost: "localhost", BucketPort: 9000}
	LoadStorageConfigFromEnv(&cfg)

	assert.Equal(t, "s3.openshift-storage.svc", cfg.BucketHost)
	assert.Equal(t, 443, cfg.BucketPort)
	assert.Equal(t, "keys-abc123", cfg.BucketName)
	assert.True(t, cfg.UseSSL)
}

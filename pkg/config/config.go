package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ServiceConfig holds common service configuration
type ServiceConfig struct {
	Port            int    `mapstructure:"port"`
	HealthPort      int    `mapstructure:"health_port"`
	Host            string `mapstructure:"host"`
	MockSPIFFE      bool   `mapstructure:"mock_spiffe"`
	ListenPlainHTTP bool   `mapstructure:"listen_plain_http"`
	LogLevel        string `mapstructure:"log_level"`
	LogFormat       string `mapstructure:"log_format"`
}

// Addr returns the service listen address
func (c ServiceConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HealthAddr returns the health check listen address (plain HTTP)
func (c ServiceConfig) HealthAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HealthPort)
}

// SPIFFEConfig holds SPIFFE-related configuration
type SPIFFEConfig struct {
	SocketPath  string `mapstructure:"socket_path"`
	TrustDomain string `mapstructure:"trust_domain"`
}

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	SampleRatio       float64 `mapstructure:"sample_ratio"`
}

// KeyStoreConfig selects where public keys are looked up
type KeyStoreConfig struct {
	Source             string        `mapstructure:"source"` // memory, file, s3, remote
	File               string        `mapstructure:"file"`
	URL                string        `mapstructure:"url"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	MinRefetchInterval time.Duration `mapstructure:"min_refetch_interval"`
	Storage            StorageConfig `mapstructure:"storage"`
}

// StorageConfig holds S3-compatible object storage configuration
type StorageConfig struct {
	BucketHost  string `mapstructure:"bucket_host"`
	BucketPort  int    `mapstructure:"bucket_port"`
	BucketName  string `mapstructure:"bucket_name"`
	ObjectKey   string `mapstructure:"object_key"`
	UseSSL      bool   `mapstructure:"use_ssl"`
	Region      string `mapstructure:"region"`
	AccessKeyID string `mapstructure:"access_key_id"`
	SecretKey   string `mapstructure:"secret_access_key"`
}

// VerificationConfig holds token verification options
type VerificationConfig struct {
	RequireEdDSA bool          `mapstructure:"require_eddsa"`
	CheckTime    bool          `mapstructure:"check_time"`
	Leeway       time.Duration `mapstructure:"leeway"`
}

// ChallengeConfig holds presentation challenge settings
type ChallengeConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
	Domain   string        `mapstructure:"domain"`
}

// PolicyConfig selects the authorization policy
type PolicyConfig struct {
	File           string   `mapstructure:"file"`
	Query          string   `mapstructure:"query"`
	TrustedIssuers []string `mapstructure:"trusted_issuers"`
}

// CommonConfig holds configuration common to all commands
type CommonConfig struct {
	Service      ServiceConfig      `mapstructure:"service"`
	SPIFFE       SPIFFEConfig       `mapstructure:"spiffe"`
	OTel         OTelConfig         `mapstructure:"otel"`
	KeyStore     KeyStoreConfig     `mapstructure:"keystore"`
	Verification VerificationConfig `mapstructure:"verification"`
	Challenge    ChallengeConfig    `mapstructure:"challenge"`
	Policy       PolicyConfig       `mapstructure:"policy"`
}

// InitViper initializes Viper with common settings
func InitViper(serviceName string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(fmt.Sprintf("./%s", serviceName))
	v.AddConfigPath("/etc/did-verifier/")

	v.SetEnvPrefix("DID_VERIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.health_port", 8180)
	v.SetDefault("service.mock_spiffe", true)
	v.SetDefault("service.listen_plain_http", false)
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.log_format", "text")

	v.SetDefault("spiffe.socket_path", "/run/spire/sockets/agent.sock")
	v.SetDefault("spiffe.trust_domain", "demo.example.com")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.collector_endpoint", "")
	v.SetDefault("otel.sample_ratio", 1.0)

	v.SetDefault("keystore.source", "memory")
	v.SetDefault("keystore.file", "")
	v.SetDefault("keystore.url", "")
	v.SetDefault("keystore.refresh_interval", 5*time.Minute)
	v.SetDefault("keystore.min_refetch_interval", 10*time.Second)
	v.SetDefault("keystore.storage.bucket_host", "localhost")
	v.SetDefault("keystore.storage.bucket_port", 9000)
	v.SetDefault("keystore.storage.bucket_name", "trusted-keys")
	v.SetDefault("keystore.storage.object_key", "keys.json")
	v.SetDefault("keystore.storage.use_ssl", false)
	v.SetDefault("keystore.storage.region", "us-east-1")

	v.SetDefault("verification.require_eddsa", true)
	v.SetDefault("verification.check_time", false)
	v.SetDefault("verification.leeway", time.Duration(0))

	v.SetDefault("challenge.ttl", 60*time.Second)
	v.SetDefault("challenge.capacity", 10000)
	v.SetDefault("challenge.domain", "")

	v.SetDefault("policy.file", "")
	v.SetDefault("policy.query", "")
	v.SetDefault("policy.trusted_issuers", []string{})
}

// Load reads the configuration from file and environment
func Load(v *viper.Viper, cfg any) error {
	// Support standard PORT/HOST env vars used by container platforms
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			v.Set("service.port", port)
		}
	}
	if host := os.Getenv("HOST"); host != "" {
		v.Set("service.host", host)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// BindFlags binds common CLI flags to Viper
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.IntP("port", "p", 0, "Port to listen on")
	flags.String("host", "", "Host to bind to")
	flags.Bool("mock-spiffe", true, "Use mock SPIFFE mode (no SPIRE required)")
	flags.Bool("listen-plain-http", false, "Listen on plain HTTP instead of mTLS (for use behind Envoy proxy)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.Bool("otel-enabled", false, "Enable OpenTelemetry tracing")
	flags.String("otel-collector-endpoint", "", "OpenTelemetry collector gRPC endpoint (e.g. localhost:4317)")
	flags.String("keystore-source", "", "Key store backend (memory, file, s3, remote)")
	flags.String("keystore-file", "", "JWKS or DID document file for the file key store")
	flags.String("keystore-url", "", "JWKS URL for the remote key store")
	flags.Bool("require-eddsa", true, "Reject tokens whose header alg is not EdDSA")
	flags.Bool("check-time", false, "Reject expired and not-yet-valid tokens")
	flags.String("policy-file", "", "Rego policy file (default is the bundled vehicle policy)")

	v.BindPFlag("service.port", flags.Lookup("port"))
	v.BindPFlag("service.host", flags.Lookup("host"))
	v.BindPFlag("service.mock_spiffe", flags.Lookup("mock-spiffe"))
	v.BindPFlag("service.listen_plain_http", flags.Lookup("listen-plain-http"))
	v.BindPFlag("service.log_level", flags.Lookup("log-level"))
	v.BindPFlag("service.log_format", flags.Lookup("log-format"))
	v.BindPFlag("otel.enabled", flags.Lookup("otel-enabled"))
	v.BindPFlag("otel.collector_endpoint", flags.Lookup("otel-collector-endpoint"))
	v.BindPFlag("keystore.source", flags.Lookup("keystore-source"))
	v.BindPFlag("keystore.file", flags.Lookup("keystore-file"))
	v.BindPFlag("keystore.url", flags.Lookup("keystore-url"))
	v.BindPFlag("verification.require_eddsa", flags.Lookup("require-eddsa"))
	v.BindPFlag("verification.check_time", flags.Lookup("check-time"))
	v.BindPFlag("policy.file", flags.Lookup("policy-file"))
}

// LoadStorageConfigFromEnv loads storage configuration from OBC-style
// environment variables (BUCKET_HOST, BUCKET_PORT, BUCKET_NAME, ...), as set
// by OpenShift ObjectBucketClaim ConfigMaps and Secrets.
func LoadStorageConfigFromEnv(cfg *StorageConfig) {
	if host := os.Getenv("BUCKET_HOST"); host != "" {
		cfg.BucketHost = host
	}
	if portStr := os.Getenv("BUCKET_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.BucketPort = port
		}
	}
	if name := os.Getenv("BUCKET_NAME"); name != "" {
		cfg.BucketName = name
	}
	if region := os.Getenv("BUCKET_REGION"); region != "" {
		cfg.Region = region
	}
	if id := os.Getenv("AWS_ACCESS_KEY_ID"); id != "" {
		cfg.AccessKeyID = id
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		cfg.SecretKey = secret
	}

	// Auto-detect SSL based on port (443 = HTTPS), overridable by BUCKET_SSL
	if sslStr := os.Getenv("BUCKET_SSL"); sslStr != "" {
		cfg.UseSSL = sslStr == "true" || sslStr == "1"
	} else if cfg.BucketPort == 443 {
		cfg.UseSSL = true
	}
}

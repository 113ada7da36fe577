package spiffe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
	"github.com/spiffe/go-spiffe/v2/workloadapi"

	"github.com/redhat-et/did-jwt-verifier/pkg/logger"
)

// Config holds SPIFFE-related configuration
type Config struct {
	SocketPath  string
	TrustDomain string
	MockMode    bool
}

// WorkloadIdentity represents a workload's SPIFFE identity
type WorkloadIdentity struct {
	SPIFFEID string
}

// WorkloadClient provides SPIFFE workload API functionality
type WorkloadClient struct {
	config   Config
	log      *logger.Logger
	source   *workloadapi.X509Source
	identity *WorkloadIdentity
}

// NewWorkloadClient creates a new workload client
func NewWorkloadClient(cfg Config, log *logger.Logger) *WorkloadClient {
	return &WorkloadClient{
		config: cfg,
		log:    log,
	}
}

// FetchIdentity connects to the SPIRE Agent and fetches the workload's SVID.
// The X509 source stays open and rotates the SVID until Close is called.
func (c *WorkloadClient) FetchIdentity(ctx context.Context) (*WorkloadIdentity, error) {
	if c.config.MockMode {
		c.log.Info("Mock mode: Skipping SPIRE Agent connection")
		return c.identity, nil
	}

	addr := c.config.SocketPath
	if !strings.Contains(addr, "://") {
		addr = "unix://" + addr
	}
	c.log.Info("Connecting to SPIRE Agent", "socket", addr)

	source, err := workloadapi.NewX509Source(ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(addr)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create X509 source: %w", err)
	}

	svid, err := source.GetX509SVID()
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("failed to get X509 SVID: %w", err)
	}

	c.source = source
	c.identity = &WorkloadIdentity{SPIFFEID: svid.ID.String()}
	c.log.SVID(c.identity.SPIFFEID, "SVID acquired from SPIRE Agent")
	return c.identity, nil
}

// SetMockIdentity sets a mock identity for local development
func (c *WorkloadClient) SetMockIdentity(spiffeID string) {
	c.identity = &WorkloadIdentity{SPIFFEID: spiffeID}
	c.log.SVID(spiffeID, "Using mock SPIFFE identity")
}

// GetIdentity returns the current identity
func (c *WorkloadClient) GetIdentity() *WorkloadIdentity {
	return c.identity
}

// CreateHTTPServer creates an HTTP server. Outside mock mode, and once an
// identity has been fetched, the server requires mTLS from callers in the
// configured trust domain.
func (c *WorkloadClient) CreateHTTPServer(addr string, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if c.config.MockMode || c.source == nil {
		return server
	}

	authorizer := tlsconfig.AuthorizeAny()
	if td, err := spiffeid.TrustDomainFromString(c.config.TrustDomain); err == nil {
		authorizer = tlsconfig.AuthorizeMemberOf(td)
	} else {
		c.log.Warn("Invalid trust domain, accepting any SPIFFE ID", "trust_domain", c.config.TrustDomain, "error", err)
	}
	server.TLSConfig = tlsconfig.MTLSServerConfig(c.source, c.source, authorizer)
	return server
}

// Close releases the X509 source
func (c *WorkloadClient) Close() error {
	if c.source == nil {
		return nil
	}
	return c.source.Close()
}

// IdentityMiddleware creates middleware that extracts the caller's SPIFFE ID
// from the mTLS peer certificate, or from the X-SPIFFE-ID header in mock mode
func IdentityMiddleware(mockMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mockMode {
				if spiffeID := r.Header.Get("X-SPIFFE-ID"); spiffeID != "" {
					r = r.WithContext(context.WithValue(r.Context(), spiffeIDKey, spiffeID))
				}
			} else if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
				if id, err := x509svid.IDFromCert(r.TLS.PeerCertificates[0]); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), spiffeIDKey, id.String()))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const spiffeIDKey contextKey = "spiffe-id"

// GetSPIFFEIDFromContext extracts the SPIFFE ID from the request context
func GetSPIFFEIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(spiffeIDKey).(string); ok {
		return id
	}
	return ""
}

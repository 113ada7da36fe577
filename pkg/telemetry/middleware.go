package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untracedPaths are probe and scrape endpoints
var untracedPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// WrapHandler traces inbound requests, naming spans "METHOD /path"
func WrapHandler(handler http.Handler, serverName string) http.Handler {
	return otelhttp.NewHandler(handler, serverName,
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !untracedPaths[r.URL.Path]
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// WrapTransport traces outbound requests such as JWKS fetches. Spans are
// named after operation.
func WrapTransport(transport http.RoundTripper, operation string) http.RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return otelhttp.NewTransport(transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return operation + " " + r.URL.Host
		}),
	)
}

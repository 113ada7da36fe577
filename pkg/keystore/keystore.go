// Package keystore maps key ids (DID URLs such as did:iota:tst:0x...#key-1)
// to the base64url Ed25519 public keys published for them.
package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redhat-et/did-jwt-verifier/pkg/metrics"
	"github.com/redhat-et/did-jwt-verifier/pkg/telemetry"
)

// KeyStore defines the interface for public key lookups
type KeyStore interface {
	// Lookup returns the base64url-encoded public key published under kid
	Lookup(ctx context.Context, kid string) (string, error)

	// List returns all known key ids
	List(ctx context.Context) ([]string, error)

	// Ping checks if the backend is available
	Ping(ctx context.Context) error
}

// ErrKeyNotFound is returned when no key is published under a kid
type ErrKeyNotFound struct {
	Kid string
}

func (e *ErrKeyNotFound) Error() string {
	return "public key not found: " + e.Kid
}

// Source names a key store backend
type Source string

const (
	SourceMemory Source = "memory"
	SourceFile   Source = "file"
	SourceS3     Source = "s3"
	SourceRemote Source = "remote"
)

// Config selects and configures a backend
type Config struct {
	Source Source
	File   string
	Remote RemoteConfig
	S3     S3Config
}

// Open creates the key store described by cfg
func Open(ctx context.Context, cfg Config) (KeyStore, error) {
	switch cfg.Source {
	case SourceMemory, "":
		return NewMemoryStore(nil), nil
	case SourceFile:
		if cfg.File == "" {
			return nil, fmt.Errorf("keystore source %q requires a file path", cfg.Source)
		}
		return LoadFile(cfg.File)
	case SourceS3:
		return NewS3Store(ctx, cfg.S3)
	case SourceRemote:
		if cfg.Remote.URL == "" {
			return nil, fmt.Errorf("keystore source %q requires a URL", cfg.Source)
		}
		return NewRemoteStore(cfg.Remote), nil
	default:
		return nil, fmt.Errorf("unknown keystore source %q", cfg.Source)
	}
}

// Instrument wraps store so that lookups are counted per backend
func Instrument(store KeyStore, backend Source) KeyStore {
	return &instrumented{KeyStore: store, backend: string(backend)}
}

type instrumented struct {
	KeyStore
	backend string
}

func (s *instrumented) Lookup(ctx context.Context, kid string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "keystore.lookup",
		telemetry.AttrKid.String(kid),
		telemetry.AttrKeySource.String(s.backend),
	)
	defer span.End()

	key, err := s.KeyStore.Lookup(ctx, kid)
	var notFound *ErrKeyNotFound
	switch {
	case err == nil:
		metrics.KeyLookups.WithLabelValues(s.backend, "hit").Inc()
	case errors.As(err, &notFound):
		metrics.KeyLookups.WithLabelValues(s.backend, "miss").Inc()
	default:
		metrics.KeyLookups.WithLabelValues(s.backend, "error").Inc()
		telemetry.SetSpanError(span, err)
	}
	return key, err
}

// Put forwards imports when the wrapped store accepts them
func (s *instrumented) Put(ctx context.Context, keys map[string]string) error {
	w, ok := s.KeyStore.(Writer)
	if !ok {
		return fmt.Errorf("keystore source %q is read-only", s.backend)
	}
	return w.Put(ctx, keys)
}

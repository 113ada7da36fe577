package keystore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/redhat-et/did-jwt-verifier/pkg/telemetry"
)

// DefaultRefreshInterval is how long a fetched key set is served from cache
const DefaultRefreshInterval = 5 * time.Minute

// DefaultMinRefetchInterval bounds how often an unknown kid may force a fetch
const DefaultMinRefetchInterval = 10 * time.Second

// RemoteConfig configures a key store backed by a JWKS (or DID document) URL
type RemoteConfig struct {
	URL             string
	RefreshInterval time.Duration
	// MinRefetchInterval is the minimum time between fetches forced by
	// unknown kids; lookups in between answer from the cached key set
	MinRefetchInterval time.Duration
	Timeout            time.Duration
	Client             *http.Client
}

// RemoteStore serves keys from a cached copy of a remote key set. An unknown
// kid forces one refetch so rotated keys are picked up before the cache
// expires, at most once per minimum refetch interval.
type RemoteStore struct {
	url        string
	interval   time.Duration
	minRefetch time.Duration
	timeout    time.Duration
	client     *http.Client
	now        func() time.Time

	mu      sync.RWMutex
	keys    map[string]string
	fetched time.Time
	forced  time.Time
}

// NewRemoteStore creates a remote key store
func NewRemoteStore(cfg RemoteConfig) *RemoteStore {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	minRefetch := cfg.MinRefetchInterval
	if minRefetch <= 0 {
		minRefetch = DefaultMinRefetchInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: telemetry.WrapTransport(nil, "jwks.fetch")}
	}
	return &RemoteStore{
		url:        cfg.URL,
		interval:   interval,
		minRefetch: minRefetch,
		timeout:    timeout,
		client:     client,
		now:        time.Now,
	}
}

// Lookup returns the key published under kid
func (r *RemoteStore) Lookup(ctx context.Context, kid string) (string, error) {
	keys, err := r.getKeys(ctx)
	if err != nil {
		return "", err
	}
	if key, ok := keys[kid]; ok {
		return key, nil
	}

	// Try refreshing in case keys were rotated
	if !r.invalidate() {
		return "", &ErrKeyNotFound{Kid: kid}
	}
	keys, err = r.getKeys(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to refresh key set: %w", err)
	}
	key, ok := keys[kid]
	if !ok {
		return "", &ErrKeyNotFound{Kid: kid}
	}
	return key, nil
}

// List returns all key ids in the current key set
func (r *RemoteStore) List(ctx context.Context) ([]string, error) {
	keys, err := r.getKeys(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKids(keys), nil
}

// Ping fetches the key set if the cache is stale
func (r *RemoteStore) Ping(ctx context.Context) error {
	_, err := r.getKeys(ctx)
	return err
}

// getKeys returns the cached key set or fetches it
func (r *RemoteStore) getKeys(ctx context.Context) (map[string]string, error) {
	r.mu.RLock()
	if r.keys != nil && r.now().Sub(r.fetched) < r.interval {
		defer r.mu.RUnlock()
		return r.keys, nil
	}
	r.mu.RUnlock()

	return r.fetch(ctx)
}

// invalidate forces the next getKeys call to fetch fresh keys. It reports
// false without invalidating when the last forced fetch is too recent.
func (r *RemoteStore) invalidate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if !r.forced.IsZero() && now.Sub(r.forced) < r.minRefetch {
		return false
	}
	r.forced = now
	r.fetched = time.Time{}
	return true
}

func (r *RemoteStore) fetch(ctx context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if r.keys != nil && r.now().Sub(r.fetched) < r.interval {
		return r.keys, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key set request: %w", err)
	}
	req.Header.Set("Accept", "application/jwk-set+json, application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set from %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read key set response: %w", err)
	}

	keys, err := ParseKeySet(body)
	if err != nil {
		return nil, err
	}

	r.keys = keys
	r.fetched = r.now()
	return r.keys, nil
}

// Package challenge issues single-use nonces that a holder must sign into a
// presentation. At most one challenge is outstanding per DID; issuing a new
// one replaces the old.
package challenge

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long a nonce stays fresh
	DefaultTTL = 60 * time.Second
	// DefaultCapacity bounds the number of outstanding challenges
	DefaultCapacity = 10000
)

var (
	// ErrNoChallenge is returned when no challenge is outstanding for a DID
	ErrNoChallenge = errors.New("no outstanding challenge")
	// ErrExpired is returned when the outstanding challenge is no longer fresh
	ErrExpired = errors.New("challenge expired")
	// ErrEmptyDID is returned when a challenge is requested without a DID
	ErrEmptyDID = errors.New("did is required")
)

// Challenge is a nonce issued to a DID
type Challenge struct {
	DID       string    `json:"did"`
	Nonce     string    `json:"nonce"`
	Domain    string    `json:"domain,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config holds challenge store settings
type Config struct {
	TTL      time.Duration
	Capacity int
	Domain   string
	Clock    gcache.Clock
}

// Store keeps outstanding challenges in an LRU cache. Entries are evicted at
// twice the TTL so that stale nonces are reported as expired rather than
// unknown.
type Store struct {
	mu     sync.Mutex
	cache  gcache.Cache
	ttl    time.Duration
	domain string
	clock  gcache.Clock
}

// NewStore creates a challenge store
func NewStore(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = gcache.NewRealClock()
	}
	return &Store{
		cache:  gcache.New(cfg.Capacity).LRU().Clock(cfg.Clock).Build(),
		ttl:    cfg.TTL,
		domain: cfg.Domain,
		clock:  cfg.Clock,
	}
}

// TTL returns the freshness window of issued nonces
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Issue creates a fresh nonce for did
func (s *Store) Issue(did string) (*Challenge, error) {
	if did == "" {
		return nil, ErrEmptyDID
	}

	now := s.clock.Now()
	ch := &Challenge{
		DID:       did,
		Nonce:     newNonce(),
		Domain:    s.domain,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.SetWithExpire(did, ch, 2*s.ttl); err != nil {
		return nil, err
	}
	return ch, nil
}

// Consume removes and returns the outstanding challenge for did. A challenge
// can be consumed once, whether or not the presentation then verifies.
func (s *Store) Consume(did string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.cache.Get(did)
	if err != nil {
		if errors.Is(err, gcache.KeyNotFoundError) {
			return nil, ErrNoChallenge
		}
		return nil, err
	}
	s.cache.Remove(did)

	ch := v.(*Challenge)
	if !s.clock.Now().Before(ch.ExpiresAt) {
		return nil, ErrExpired
	}
	return ch, nil
}

// Len returns the number of cached challenges, including stale ones not
// yet evicted
func (s *Store) Len() int {
	return s.cache.Len(false)
}

// newNonce returns a random UUID in its 32-character hex form
func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

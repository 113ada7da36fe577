// Package did parses DID URLs of the form did:<method>:<id>[#fragment],
// as found in the "kid" header and "iss"/"sub" claims of credential tokens.
package did

import (
	"fmt"
	"strings"
)

const scheme = "did"

// URL is a parsed DID URL
type URL struct {
	Method   string
	ID       string // method-specific identifier, e.g. "tst:0xf9b1..."
	Fragment string // verification method fragment, without '#'
}

// ErrInvalidDID is returned for strings that are not DID URLs
type ErrInvalidDID struct {
	Input  string
	Reason string
}

func (e *ErrInvalidDID) Error() string {
	return fmt.Sprintf("invalid DID %q: %s", e.Input, e.Reason)
}

// Parse parses a DID or DID URL. Paths and queries are not supported.
func Parse(s string) (URL, error) {
	base, fragment, hasFragment := strings.Cut(s, "#")
	if hasFragment && fragment == "" {
		return URL{}, &ErrInvalidDID{Input: s, Reason: "empty fragment"}
	}
	if strings.ContainsAny(base, "/?") {
		return URL{}, &ErrInvalidDID{Input: s, Reason: "paths and queries are not supported"}
	}

	parts := strings.SplitN(base, ":", 3)
	if len(parts) != 3 || parts[0] != scheme {
		return URL{}, &ErrInvalidDID{Input: s, Reason: "expected did:<method>:<id>"}
	}
	method, id := parts[1], parts[2]
	if method == "" || !isMethodName(method) {
		return URL{}, &ErrInvalidDID{Input: s, Reason: "invalid method name"}
	}
	if id == "" || strings.HasSuffix(id, ":") {
		return URL{}, &ErrInvalidDID{Input: s, Reason: "empty method-specific id"}
	}

	return URL{Method: method, ID: id, Fragment: fragment}, nil
}

func isMethodName(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// DID returns the DID without fragment
func (u URL) DID() string {
	return scheme + ":" + u.Method + ":" + u.ID
}

// String returns the full DID URL
func (u URL) String() string {
	if u.Fragment == "" {
		return u.DID()
	}
	return u.DID() + "#" + u.Fragment
}

// Network returns the network segment of IOTA-style identifiers such as
// did:iota:tst:0x..., or "" when the id has a single segment.
func (u URL) Network() string {
	i := strings.LastIndex(u.ID, ":")
	if i < 0 {
		return ""
	}
	return u.ID[:i]
}

// WithFragment returns a copy of u pointing at the given verification method
func (u URL) WithFragment(fragment string) URL {
	u.Fragment = fragment
	return u
}

// SameSubject reports whether two DID URLs name the same DID, ignoring fragments
func SameSubject(a, b string) bool {
	ua, err := Parse(a)
	if err != nil {
		return false
	}
	ub, err := Parse(b)
	if err != nil {
		return false
	}
	return ua.DID() == ub.DID()
}

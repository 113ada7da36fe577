package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redhat-et/did-jwt-verifier/pkg/token"
)

// ReasonUnknownKey marks tokens whose kid is not published in the store
const ReasonUnknownKey token.Reason = "unknown_key"

// ErrMissingKid is reported for tokens whose header names no key
var ErrMissingKid = errors.New("header carries no kid")

// Verify decodes raw, looks up the key named by its header kid and verifies
// the token with v. Unknown keys yield an invalid outcome; only store
// failures are returned as errors.
func Verify(ctx context.Context, store KeyStore, v *token.Verifier, raw string) (*token.Segments, token.Outcome, error) {
	segs, err := token.Decode(raw)
	if err != nil {
		return nil, token.Outcome{Reason: token.ReasonOf(err), Err: err}, nil
	}

	header, err := token.ParseHeader(segs.Header)
	if err != nil {
		return segs, token.Outcome{Reason: token.ReasonMalformedHeader, Err: err}, nil
	}
	if header.Kid == "" {
		return segs, token.Outcome{Header: header, Reason: token.ReasonMalformedHeader, Err: ErrMissingKid}, nil
	}

	encoded, err := store.Lookup(ctx, header.Kid)
	if err != nil {
		var notFound *ErrKeyNotFound
		if errors.As(err, &notFound) {
			return segs, token.Outcome{Header: header, Reason: ReasonUnknownKey, Err: err}, nil
		}
		return nil, token.Outcome{}, fmt.Errorf("failed to look up key %q: %w", header.Kid, err)
	}

	key, err := token.DecodePublicKey(encoded)
	if err != nil {
		return segs, token.Outcome{Header: header, Reason: token.ReasonOf(err), Err: err}, nil
	}
	return segs, v.Verify(segs, key), nil
}

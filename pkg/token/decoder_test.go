package token

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-et/did-jwt-verifier/internal/tokentest"
)

func TestDecodeSegmentPaddingTolerance(t *testing.T) {
	tests := []struct {
		name     string
		unpadded string
		padded   string
		want     string
	}{
		{"no padding needed", "YWJj", "YWJj", "abc"},
		{"one missing pad", "YWI", "YWI=", "ab"},
		{"two missing pads", "YQ", "YQ==", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fromUnpadded, err := DecodeSegment(tt.unpadded)
			require.NoError(t, err)
			fromPadded, err := DecodeSegment(tt.padded)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(fromUnpadded))
			assert.Equal(t, fromPadded, fromUnpadded)
		})
	}
}

func TestDecodeSegmentRejectsThreePads(t *testing.T) {
	for _, s := range []string{"Y", "YWJjZ", "YWJjZGVmZ"} {
		_, err := DecodeSegment(s)
		assert.Error(t, err, "segment %q", s)
	}
}

func TestDecodeSegmentURLSafeAlphabet(t *testing.T) {
	got, err := DecodeSegment("-_8")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfb, 0xff}, got)

	_, err = DecodeSegment("+/8")
	assert.Error(t, err, "standard alphabet must be rejected")
}

func TestDecodeSegmentRejectsNonCanonicalTrailingBits(t *testing.T) {
	// "YR" and "YQ" would both decode to "a" without strict checking
	_, err := DecodeSegment("YR")
	assert.Error(t, err)
}

func TestDecodeSegmentRejectsWhitespace(t *testing.T) {
	for _, s := range []string{
		"YWFh\n\n\n\n",
		"YWFh\r\n",
		"YW\nFh",
		"YWFh ",
		" YWFh",
		"YW\tFh",
		"YWI\n=",
		"YWI=\n",
	} {
		_, err := DecodeSegment(s)
		assert.Error(t, err, "segment %q", s)
	}
}

func TestDecodeSegmentPaddingMustMatchLength(t *testing.T) {
	for _, s := range []string{"YWI==", "YQ=", "YWJj=", "===="} {
		_, err := DecodeSegment(s)
		assert.Error(t, err, "segment %q", s)
	}
}

func TestDecodeRejectsLineBreaksInSegments(t *testing.T) {
	parts := strings.Split(tokentest.SampleToken, ".")
	tests := []struct {
		name  string
		token string
		part  Part
	}{
		{"crlf after header", parts[0] + "\r\n\r\n." + parts[1] + "." + parts[2], PartHeader},
		{"lf inside payload", parts[0] + "." + parts[1][:8] + "\n" + parts[1][8:] + "." + parts[2], PartPayload},
		{"space before signature", parts[0] + "." + parts[1] + ". " + parts[2], PartSignature},
		{"tab after signature", parts[0] + "." + parts[1] + "." + parts[2] + "\t", PartSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token)
			require.Error(t, err)
			var te *Error
			require.True(t, errors.As(err, &te))
			assert.Equal(t, ReasonInvalidEncoding, te.Reason)
			assert.Equal(t, tt.part, te.Part)

			out := NewVerifier().VerifyToken(tt.token, tokentest.SampleKey)
			assert.False(t, out.Valid)
			assert.Equal(t, ReasonInvalidEncoding, out.Reason)
		})
	}
}

func TestDecodeSampleToken(t *testing.T) {
	segs, err := Decode(tokentest.SampleToken)
	require.NoError(t, err)

	parts := strings.Split(tokentest.SampleToken, ".")
	assert.Equal(t, parts[0], segs.RawHeader)
	assert.Equal(t, parts[1], segs.RawPayload)
	assert.Equal(t, parts[2], segs.RawSignature)
	assert.Len(t, segs.Signature, 64)
	assert.Contains(t, string(segs.Header), `"alg":"EdDSA"`)
	assert.Contains(t, string(segs.Payload), `"VehicleAuthorization"`)
}

func TestDecodeWrongSegmentCount(t *testing.T) {
	parts := strings.Split(tokentest.SampleToken, ".")
	tests := []struct {
		name  string
		token string
	}{
		{"missing signature", parts[0] + "." + parts[1]},
		{"single segment", parts[0]},
		{"four segments", tokentest.SampleToken + "." + parts[2]},
		{"empty string", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token)
			require.Error(t, err)
			assert.Equal(t, ReasonMalformedToken, ReasonOf(err))
			assert.True(t, errors.Is(err, ErrMalformedToken))
		})
	}
}

func TestDecodeEmptySegment(t *testing.T) {
	parts := strings.Split(tokentest.SampleToken, ".")
	_, err := Decode(parts[0] + ".." + parts[2])
	require.Error(t, err)
	assert.Equal(t, ReasonMalformedToken, ReasonOf(err))
}

func TestDecodeInvalidEncodingNamesSegment(t *testing.T) {
	parts := strings.Split(tokentest.SampleToken, ".")
	tests := []struct {
		name  string
		token string
		part  Part
	}{
		{"header", parts[0] + "!." + parts[1] + "." + parts[2], PartHeader},
		{"payload", parts[0] + "." + parts[1] + "*." + parts[2], PartPayload},
		{"signature", parts[0] + "." + parts[1] + ".%" + parts[2][1:], PartSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token)
			require.Error(t, err)
			var te *Error
			require.True(t, errors.As(err, &te))
			assert.Equal(t, ReasonInvalidEncoding, te.Reason)
			assert.Equal(t, tt.part, te.Part)
			assert.Contains(t, err.Error(), string(tt.part))
		})
	}
}

func TestDecodeIsInjective(t *testing.T) {
	keys := tokentest.GenerateKeyPair(t, "did:example:123#key-1")
	a := tokentest.NewTokenBuilder(t, keys).WithSubject("alice").Build()
	b := tokentest.NewTokenBuilder(t, keys).WithSubject("bob").Build()

	segA, err := Decode(a)
	require.NoError(t, err)
	segB, err := Decode(b)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(segA.Payload, segB.Payload))
	assert.False(t, bytes.Equal(segA.Signature, segB.Signature))
}

func TestSigningInputRoundTrip(t *testing.T) {
	tests := []struct {
		header  string
		payload string
	}{
		{"eyJhbGciOiJFZERTQSJ9", "eyJzdWIiOiJ4In0"},
		{"YQ", "YWI="},
		{"-_", "_-"},
	}
	for _, tt := range tests {
		input := SigningInput(tt.header, tt.payload)
		parts := strings.Split(string(input), ".")
		require.Len(t, parts, 2)
		assert.Equal(t, tt.header, parts[0])
		assert.Equal(t, tt.payload, parts[1])
	}
}

func TestSigningInputUsesEncodedText(t *testing.T) {
	parts := strings.Split(tokentest.SampleToken, ".")
	segs, err := Decode(tokentest.SampleToken)
	require.NoError(t, err)

	assert.Equal(t, []byte(parts[0]+"."+parts[1]), segs.SigningInput())
}

package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Strict rejects non-zero trailing bits. Together with the alphabet check in
// DecodeSegment, two different segment texts never decode to the same bytes.
var urlEncoding = base64.URLEncoding.Strict()

var (
	errPadLength = errors.New("segment length is not a valid base64 length")
	errPadding   = errors.New("segment padding does not match its length")
)

// PadLength returns how many '=' characters complete a base64 string of length n
func PadLength(n int) int {
	return (4 - n%4) % 4
}

// DecodeSegment decodes URL-safe base64 text with or without trailing
// padding. Any byte outside [A-Za-z0-9_-] other than trailing '=' is an
// error; the standard library decoder would otherwise skip CR and LF.
func DecodeSegment(segment string) ([]byte, error) {
	body := strings.TrimRight(segment, "=")
	for i := 0; i < len(body); i++ {
		if !isURLAlphabet(body[i]) {
			return nil, fmt.Errorf("illegal base64url byte %q at offset %d", body[i], i)
		}
	}

	pad := PadLength(len(body))
	if pad == 3 {
		return nil, errPadLength
	}
	if given := len(segment) - len(body); given != 0 && given != pad {
		return nil, errPadding
	}
	return urlEncoding.DecodeString(body + strings.Repeat("=", pad))
}

func isURLAlphabet(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_':
		return true
	}
	return false
}

// EncodeSegment encodes bytes as unpadded URL-safe base64
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

package util

import (
	"encoding/base64"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD so the same passphrase typed on different
// platforms derives the same key bytes.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// Base64URLEncode encodes without padding, safe for URL fragments.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

package corex

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// HexEncode renders b as a "0x"-prefixed lowercase hex string, the
// convention used throughout the wire formats.
func HexEncode(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HexDecode parses a "0x"-prefixed (or bare) hex string into bytes.
func HexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("corex: decode hex: %w", err)
	}
	return b, nil
}

// Base64URLEncode encodes b as unpadded base64url, used for payment tokens.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes an unpadded or padded base64url string.
func Base64URLDecode(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// Base64StdEncode encodes b as standard padded base64, used for the 402
// wire payloads (PAYMENT-REQUIRED / PAYMENT-SIGNATURE / PAYMENT-RESPONSE).
func Base64StdEncode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64StdDecode decodes a standard padded (or unpadded, as a fallback)
// base64 string.
func Base64StdDecode(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

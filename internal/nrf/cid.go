package nrf

import (
	"encoding/hex"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// CIDPrefix tags every content identifier with its hash algorithm.
// The digest is always the full 256-bit blake3 output in lowercase
// hex; truncation is forbidden anywhere identity matters.
const CIDPrefix = "b3:"

// cidHexLen is the digest length in hex characters (32 bytes).
const cidHexLen = 64

// ComputeCID derives the content identifier for canonical bytes.
// Pure function: same bytes in, same CID out, on any machine at any
// time. Callers must pass MarshalCanonical output, never ad-hoc JSON.
func ComputeCID(canonical []byte) string {
	sum := blake3.Sum256(canonical)
	return CIDPrefix + hex.EncodeToString(sum[:])
}

// CIDOf canonicalizes a value and derives its CID in one step.
func CIDOf(v Value) (string, error) {
	b, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return ComputeCID(b), nil
}

// KnockCID content-addresses arbitrary raw bytes. It gives rejected
// submissions a stable identity even when no canonical form exists,
// so a rejection receipt can still reference what was received.
func KnockCID(raw []byte) string {
	sum := blake3.Sum256(raw)
	return CIDPrefix + hex.EncodeToString(sum[:])
}

// ValidCID reports whether s is a well-formed content identifier:
// the algorithm tag followed by exactly 64 lowercase hex characters.
func ValidCID(s string) bool {
	if !strings.HasPrefix(s, CIDPrefix) {
		return false
	}
	digest := s[len(CIDPrefix):]
	if len(digest) != cidHexLen {
		return false
	}
	for i := 0; i < len(digest); i++ {
		c := digest[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ParseCID validates s and returns the raw digest bytes.
func ParseCID(s string) ([]byte, error) {
	if !ValidCID(s) {
		return nil, fmt.Errorf("malformed CID %q: want %q + 64 hex chars", s, CIDPrefix)
	}
	return hex.DecodeString(s[len(CIDPrefix):])
}

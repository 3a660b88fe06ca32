// Package fingerprint derives the 64-bit identifiers used to deduplicate
// URLs and page content.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

// Hash64 returns the first 8 bytes of SHA-256(s) as a big-endian uint64.
// Truncating a cryptographic hash keeps the collision probability negligible
// for any realistic corpus size; collisions are accepted, not handled.
func Hash64(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// Hash64Bytes is Hash64 over a raw body, used for content fingerprints.
func Hash64Bytes(b []byte) uint64 {
	sum := sha256.Sum256(b)
	return binary.BigEndian.Uint64(sum[:8])
}

// Signed converts a fingerprint to the bit-identical int64 stored in the
// database BIGINT column.
func Signed(fp uint64) int64 { return int64(fp) }

// Unsigned restores a fingerprint from its stored form.
func Unsigned(v int64) uint64 { return uint64(v) }

// String renders a fingerprint in decimal for cache keys.
func String(fp uint64) string { return strconv.FormatUint(fp, 10) }

// Package cryptox provides the checksum used to detect corruption of
// backup payloads.
package cryptox

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ChecksumPrefix tags checksums so the algorithm can change later without
// ambiguity.
const ChecksumPrefix = "blake2b256:"

// Checksum returns the BLAKE2b-256 digest of data as a prefixed hex string.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return ChecksumPrefix + hex.EncodeToString(sum[:])
}

// VerifyChecksum recomputes the digest of data and compares it with want
// in constant time.
func VerifyChecksum(data []byte, want string) bool {
	got := Checksum(data)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

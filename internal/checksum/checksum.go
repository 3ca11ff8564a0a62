// Package checksum computes content digests used to detect corrupted records.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Verify reports whether sum is the digest of data.
func Verify(data []byte, sum string) bool {
	return subtle.ConstantTimeCompare([]byte(Sum(data)), []byte(sum)) == 1
}

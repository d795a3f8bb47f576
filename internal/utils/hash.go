package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// KeyedDigestHex returns the hex encoding of the first n bytes of
// HMAC-SHA256(key, message). n is clamped to the digest size.
func KeyedDigestHex(key, message string, n int) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	sum := mac.Sum(nil)
	if n <= 0 || n > len(sum) {
		n = len(sum)
	}
	return hex.EncodeToString(sum[:n])
}

// ValidateHexDigest checks that s is a lowercase hex string of length chars
func ValidateHexDigest(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

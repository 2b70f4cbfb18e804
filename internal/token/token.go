// Package token mints and checks the per-pulse delete capability.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Size is the number of random bytes behind a token (256 bits)
const Size = 32

// Issue returns a fresh URL-safe token drawn from crypto/rand
func Issue() (string, error) {
	buf := make([]byte, Size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Verify compares a stored token with a supplied one in constant time.
// Empty values never match.
func Verify(stored, supplied string) bool {
	if stored == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

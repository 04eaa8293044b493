// Package auth provides portal access token generation, hashing, and
// comparison utilities used by the portal validator and CLI admin commands.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// GenerateToken returns a cryptographically random, URL-safe token string.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest stored in place of a portal
// access token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// TokenMatches hashes the presented token and compares it to storedHash in
// constant time. An empty presented token never matches.
func TokenMatches(presented, storedHash string) bool {
	if strings.TrimSpace(presented) == "" || storedHash == "" {
		return false
	}
	return ConstantTimeHashEquals(HashToken(presented), storedHash)
}

// ConstantTimeHashEquals compares two hex hash strings in constant time.
func ConstantTimeHashEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

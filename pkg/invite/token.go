package invite

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// SecretLength is the number of random bytes in a token secret (256 bits)
	SecretLength = 32

	tokenSeparator = "."
)

// TokenCodec mints, parses and verifies invitation tokens.
// Format: <inviteId>.<userId>.<base64url(32 random bytes)>
type TokenCodec struct {
	random io.Reader
}

// NewTokenCodec creates a codec backed by crypto/rand
func NewTokenCodec() *TokenCodec {
	return &TokenCodec{random: rand.Reader}
}

// Generate creates a token for the invitation and returns it with the hex
// SHA-256 hash of its secret. Only the hash is meant to be stored.
func (c *TokenCodec) Generate(inviteID, userID string) (token string, secretHash string, err error) {
	if inviteID == "" || userID == "" {
		return "", "", fmt.Errorf("invite id and user id are required")
	}
	if strings.Contains(inviteID, tokenSeparator) || strings.Contains(userID, tokenSeparator) {
		return "", "", fmt.Errorf("invite id and user id must not contain %q", tokenSeparator)
	}

	r := c.random
	if r == nil {
		r = rand.Reader
	}
	randomBytes := make([]byte, SecretLength)
	if _, err := io.ReadFull(r, randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	secret := base64.RawURLEncoding.EncodeToString(randomBytes)
	token = strings.Join([]string{inviteID, userID, secret}, tokenSeparator)
	return token, HashSecret(secret), nil
}

// Parse splits a token into its parts
func (c *TokenCodec) Parse(token string) (inviteID, userID, secret string, err error) {
	parts := strings.Split(token, tokenSeparator)
	if len(parts) != 3 {
		return "", "", "", ErrMalformedToken
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", ErrMalformedToken
		}
	}
	return parts[0], parts[1], parts[2], nil
}

// Verify reports whether secret hashes to storedHash. The comparison runs in
// constant time and over equal-length inputs even when storedHash is malformed.
func (c *TokenCodec) Verify(secret, storedHash string) bool {
	computed := sha256.Sum256([]byte(secret))

	expected, err := hex.DecodeString(storedHash)
	valid := err == nil && len(expected) == sha256.Size
	if !valid {
		expected = make([]byte, sha256.Size)
	}

	match := subtle.ConstantTimeCompare(computed[:], expected) == 1
	return valid && match
}

// HashSecret returns the hex SHA-256 hash of a token secret
func HashSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}

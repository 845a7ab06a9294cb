package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

const secretBytes = 32

// Issue returns a new resume secret and the hash to persist. The secret is
// 32 random bytes (256 bits of entropy) encoded base64url without padding;
// only the SHA-256 hex hash is ever stored.
func Issue() (secret, hash string, err error) {
	b := make([]byte, secretBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	secret = base64.RawURLEncoding.EncodeToString(b)
	return secret, Hash(secret), nil
}

// Hash returns the SHA-256 hex digest of a secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the hash of secret and compares it to storedHash in
// constant time.
func Verify(secret, storedHash string) bool {
	computed := Hash(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// Package auth guards the admin HTTP surface with a single operator
// key. The key is stored only as a bcrypt hash; the plaintext exists
// at generation time and in the operator's hands.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// GenerateAdminKey creates a new admin key with the "rolewarden_"
// prefix followed by 32 URL-safe random characters. It returns the
// plaintext key and its bcrypt hash for the config file.
func GenerateAdminKey() (plaintext, hash string, err error) {
	b := make([]byte, 24) // 24 bytes -> 32 base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating random bytes: %w", err)
	}

	plaintext = "rolewarden_" + base64.RawURLEncoding.EncodeToString(b)

	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing key: %w", err)
	}

	return plaintext, string(h), nil
}

// VerifyKey reports whether the plaintext key matches the stored
// bcrypt hash.
func VerifyKey(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const opaqueSecretSize = 32

// NewOpaqueToken returns 32 random bytes, base64url without padding.
func NewOpaqueToken() (string, error) {
	var secret [opaqueSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// HashOpaqueToken returns the hex SHA-256 of token's decoded secret. Tokens
// that do not decode to exactly 32 bytes are rejected.
func HashOpaqueToken(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	if len(raw) != opaqueSecretSize {
		return "", errors.New("invalid opaque token size")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

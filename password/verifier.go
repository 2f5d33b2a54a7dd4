package password

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Verifier checks a plaintext password against a stored hash in constant
// time. It returns false for malformed hashes.
type Verifier interface {
	Verify(plaintext, storedHash string) bool
}

// Hasher produces stored hashes and verifies them.
type Hasher interface {
	Verifier
	Hash(plaintext string) (string, error)
}

// Algorithm names accepted by [New].
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// New returns the hasher for algorithm.
func New(algorithm string, argonCfg Config, bcryptCost int) (Hasher, error) {
	switch algorithm {
	case AlgorithmArgon2id, "":
		return NewArgon2(argonCfg)
	case AlgorithmBcrypt:
		return NewBcrypt(bcryptCost)
	default:
		return nil, fmt.Errorf("password: unsupported algorithm %q", algorithm)
	}
}

// DummyHash hashes a random throwaway password with h. Verifying against the
// result costs the same as verifying a real user's hash, which lets callers
// spend equal work when no user matched.
func DummyHash(h Hasher) (string, error) {
	buf := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return h.Hash(base64.RawURLEncoding.EncodeToString(buf))
}

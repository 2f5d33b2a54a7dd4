package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when no cost is configured.
const DefaultBcryptCost = 12

// Bcrypt hashes passwords with bcrypt.
type Bcrypt struct {
	cost int
	// burn is verified against when the stored hash is malformed.
	burn []byte
}

// NewBcrypt returns a bcrypt hasher. A zero cost selects [DefaultBcryptCost].
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	burn, err := bcrypt.GenerateFromPassword([]byte("burn"), cost)
	if err != nil {
		return nil, err
	}
	return &Bcrypt{cost: cost, burn: burn}, nil
}

// Hash returns a bcrypt hash. Inputs longer than 72 bytes are rejected by
// bcrypt itself.
func (b *Bcrypt) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify compares plaintext to storedHash.
func (b *Bcrypt) Verify(plaintext, storedHash string) bool {
	if _, err := bcrypt.Cost([]byte(storedHash)); err != nil {
		_ = bcrypt.CompareHashAndPassword(b.burn, []byte(plaintext))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}

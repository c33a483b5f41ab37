package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher hashes credentials with bcrypt. Compare runs in constant time
// with respect to the stored hash.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt-based hasher, falling back to the default cost
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

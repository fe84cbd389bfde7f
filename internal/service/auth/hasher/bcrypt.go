package hasher

import (
	"crypto/sha256"

	"golang.org/x/crypto/bcrypt"
)

// Interface to create or compare hashes of user passwords and other secrets
type Hasher interface {
	// Generate Hash from secret
	Hash(secret string) (string, error)

	// Compare known hash and user provided secret
	// Must be protected against timing attacks
	Compare(hash string, secret string) error
}

// Hasher used when caller does not provide it's own
var Default Hasher = Bcrypt{}

// Bcrypt hasher
// Secret is pre-hashed with sha256 so bcrypt 72 bytes input limit never truncates it
type Bcrypt struct {
	// bcrypt cost, bcrypt.DefaultCost if zero
	Cost int
}

func (h Bcrypt) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	sum := sha256.Sum256([]byte(secret))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	return string(hash), err
}

func (h Bcrypt) Compare(hash string, secret string) error {
	sum := sha256.Sum256([]byte(secret))
	return bcrypt.CompareHashAndPassword([]byte(hash), sum[:])
}

package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MinBcryptCost is the lowest work factor the hasher will use
const MinBcryptCost = 10

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	Hash(raw string) (string, error)
	Verify(raw, hash string) bool
	// Equalize burns the same CPU as a failed Verify. Callers use it when there
	// is no stored hash to compare against.
	Equalize(raw string)
}

// BcryptHasher implements PasswordHasher with bcrypt
type BcryptHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewBcryptHasher creates a hasher. Costs below MinBcryptCost are raised to it.
func NewBcryptHasher(cost int) *BcryptHasher {
	return &BcryptHasher{cost: max(cost, MinBcryptCost)}
}

// Cost returns the effective work factor
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash creates a salted bcrypt hash of the password
func (h *BcryptHasher) Hash(raw string) (string, error) {
	if len(raw) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether raw matches hash. A malformed hash never matches.
func (h *BcryptHasher) Verify(raw, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
	return err == nil
}

// Equalize compares raw against a fixed dummy hash of the same cost
func (h *BcryptHasher) Equalize(raw string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("cvforge-timing-equalizer"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(raw))
}

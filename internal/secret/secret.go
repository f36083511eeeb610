// Package secret digests passwords and PINs.
package secret

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch indicates the presented secret does not match the stored digest.
var ErrMismatch = errors.New("secret mismatch")

// Hasher produces one-way digests and checks secrets against them.
type Hasher interface {
	Hash(secret string) ([]byte, error)
	Compare(digest []byte, secret string) error
}

// Bcrypt implements Hasher with bcrypt. Comparison runs in constant time
// with respect to the digest contents.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt Hasher; out-of-range costs fall back to bcrypt.DefaultCost.
func NewBcrypt(cost int) Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Bcrypt{cost: cost}
}

// Hash digests the secret.
func (b Bcrypt) Hash(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), b.cost)
}

// Compare returns ErrMismatch when secret does not produce digest.
func (b Bcrypt) Compare(digest []byte, secret string) error {
	err := bcrypt.CompareHashAndPassword(digest, []byte(secret))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return err
}

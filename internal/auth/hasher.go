package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher performs one-way password hashing with bcrypt. The cost is
// fixed at construction and read-only afterwards.
type Hasher struct {
	cost int
}

// NewHasher clamps the cost into bcrypt's supported range and returns
// a ready hasher.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt digest of secret. The salt is generated by
// bcrypt and embedded in the digest. Failures are internal faults
// only, never a property of the input value.
func (h *Hasher) Hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", HashingError(err)
	}
	return string(b), nil
}

// Compare reports whether secret matches digest. A well-formed digest
// that simply does not match returns (false, nil); a structurally
// invalid digest returns a HashingError.
func (h *Hasher) Compare(secret, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, HashingError(err)
	}
}

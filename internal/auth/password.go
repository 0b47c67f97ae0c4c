package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrMismatch = errors.New("credential mismatch")

func HashPassword(p string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(p), cost)
	return string(b), err
}

// VerifyPassword checks plain against a stored credential. Stored values
// that are not bcrypt hashes are legacy base64 blobs and are compared in
// constant time after decoding.
func VerifyPassword(plain, stored string) error {
	if IsHash(stored) {
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return err
	}
	legacy, ok := Reveal(stored)
	if !ok || subtle.ConstantTimeCompare([]byte(legacy), []byte(plain)) != 1 {
		return ErrMismatch
	}
	return nil
}

// IsHash reports whether stored is a bcrypt hash rather than a legacy blob.
func IsHash(stored string) bool {
	_, err := bcrypt.Cost([]byte(stored))
	return err == nil && strings.HasPrefix(stored, "$2")
}

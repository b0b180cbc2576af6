package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword derives the bcrypt hash stored on a directory account. Cost is
// the library default; tuning it is a deployment decision, not a call-site
// one.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a login attempt against the stored hash. Callers map
// any failure to ErrUnauthorized so timing and cause stay indistinguishable
// to the client.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("no password hash on record")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

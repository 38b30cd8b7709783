// Package auth handles account credentials and bearer tokens: email and
// password validation, bcrypt hashing, and HS256 JWT issue and verification.
package auth

import (
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail       = errors.New("auth: invalid email address")
	ErrWeakPassword       = errors.New("auth: password does not meet requirements")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrUserExists         = errors.New("auth: user already exists")
)

// MinPasswordLength is the minimum password length in characters.
const MinPasswordLength = 8

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

	upperPattern   = regexp.MustCompile(`[A-Z]`)
	lowerPattern   = regexp.MustCompile(`[a-z]`)
	digitPattern   = regexp.MustCompile(`[0-9]`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>+\-]`)
)

// ValidateEmail checks the shape of an email address.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}

// ValidatePassword requires at least MinPasswordLength characters with an
// upper case letter, a lower case letter, a digit and a special character.
func ValidatePassword(password string) error {
	switch {
	case len([]rune(password)) < MinPasswordLength:
		return fmt.Errorf("%w: at least %d characters", ErrWeakPassword, MinPasswordLength)
	case len(password) > maxPasswordBytes:
		return fmt.Errorf("%w: at most %d bytes", ErrWeakPassword, maxPasswordBytes)
	case !upperPattern.MatchString(password):
		return fmt.Errorf("%w: needs an upper case letter", ErrWeakPassword)
	case !lowerPattern.MatchString(password):
		return fmt.Errorf("%w: needs a lower case letter", ErrWeakPassword)
	case !digitPattern.MatchString(password):
		return fmt.Errorf("%w: needs a digit", ErrWeakPassword)
	case !specialPattern.MatchString(password):
		return fmt.Errorf("%w: needs a special character", ErrWeakPassword)
	}
	return nil
}

// HashPassword hashes password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

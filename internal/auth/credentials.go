package auth

import (
	"regexp"

	"github.com/sakif/snippet-vault/internal/apperror"
)

// Credential limits shared by registration and the bootstrap admin.
const (
	MinUsernameLen   = 3
	MaxUsernameLen   = 30
	MinPasswordBytes = 8
	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateUsername checks length and alphabet. The returned error wraps
// apperror.ErrValidation.
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLen || len(username) > MaxUsernameLen {
		return apperror.ValidationFailed("username", "username must be between 3 and 30 characters")
	}
	if !usernamePattern.MatchString(username) {
		return apperror.ValidationFailed("username", "username may only contain letters, digits, '_' and '-'")
	}
	return nil
}

// ValidatePassword checks the byte length of a candidate password.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordBytes {
		return apperror.ValidationFailed("password", "password must be at least 8 bytes")
	}
	if len(password) > MaxPasswordBytes {
		return apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}
	return nil
}

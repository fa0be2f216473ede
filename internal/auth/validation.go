package auth

import (
	"errors"
	"fmt"
	"strings"
)

// MaxPasswordBytes is bcrypt's input limit; longer passwords would be silently truncated.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned for passwords over MaxPasswordBytes
var ErrPasswordTooLong = errors.New("password must be at most 72 bytes long")

var commonPasswords = map[string]struct{}{
	"password":     {},
	"password1":    {},
	"password123":  {},
	"12345678":     {},
	"123456789":    {},
	"1234567890":   {},
	"qwertyuiop":   {},
	"iloveyou":     {},
	"letmein123":   {},
	"password1234": {},
}

// ValidatePassword checks length bounds and rejects trivially weak passwords
func ValidatePassword(password string, minLength int) error {
	if minLength <= 0 {
		minLength = 8
	}

	if len(password) < minLength {
		return fmt.Errorf("password must be at least %d characters long", minLength)
	}

	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}

	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		return errors.New("password is too common")
	}

	if isRepeatingChar(password) {
		return errors.New("password cannot be a single repeating character")
	}

	return nil
}

// NormalizeEmail trims surrounding whitespace. Case is preserved; stored emails
// compare exactly.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// isRepeatingChar checks if the password is just the same character repeated
func isRepeatingChar(s string) bool {
	if len(s) == 0 {
		return false
	}
	runes := []rune(s)
	first := runes[0]
	for _, r := range runes[1:] {
		if r != first {
			return false
		}
	}
	return true
}

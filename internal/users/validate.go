package users

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/badoux/checkmail"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9-_]{4,12}$`)
)

const (
	minPasswordLen = 8
	// bcrypt rejects longer input.
	maxPasswordLen = 72

	allowedSpecialChars = `!@#$%^&*()_+\-=[]{};':"\|,.<>/?`
)

type charClass struct {
	name     string
	contains func(r rune) bool
}

var requiredClasses = []charClass{
	{"number", func(r rune) bool { return r >= '0' && r <= '9' }},
	{"lowercase letter", func(r rune) bool { return r >= 'a' && r <= 'z' }},
	{"uppercase letter", func(r rune) bool { return r >= 'A' && r <= 'Z' }},
	{"special character", func(r rune) bool { return strings.ContainsRune(allowedSpecialChars, r) }},
}

// validateRegistration returns an error wrapping ErrInvalidInput whose text
// after the prefix can be shown to the client.
func validateRegistration(username, email, password string) error {
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("%w: Invalid username format. Must be 4-12 characters and contain only letters, numbers, hyphens, and underscores.", ErrInvalidInput)
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return fmt.Errorf("%w: Invalid email format.", ErrInvalidInput)
	}
	if msg := checkPassword(password); msg != "" {
		return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
	}
	return nil
}

// checkPassword returns a client facing message, empty when the password is
// acceptable.
func checkPassword(password string) string {
	if len(password) < minPasswordLen {
		return fmt.Sprintf("Password must be at least %d characters long.", minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return fmt.Sprintf("Password must be at most %d characters long.", maxPasswordLen)
	}

	seen := make([]bool, len(requiredClasses))
	for _, r := range password {
		matched := false
		for i, c := range requiredClasses {
			if c.contains(r) {
				seen[i] = true
				matched = true
				break
			}
		}
		if !matched {
			return "Password contains disallowed characters."
		}
	}

	for i, c := range requiredClasses {
		if !seen[i] {
			return "Password must contain at least one " + c.name + "."
		}
	}
	return ""
}

// Package identity canonicalizes the email addresses that act as account
// identifiers. Every store key and token subject goes through Normalize first
// so "Dana@Example.COM " and "dana@example.com" are the same account.
package identity

import (
	"strings"

	"usher/pkg/apperr"
)

// Normalize trims surrounding whitespace and lowercases the address.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Valid performs lightweight validation of an email address format.
// Deliverability is not checked; the one-time code email is the real probe.
func Valid(email string) bool {
	if email == "" {
		return false
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	if parts[0] == "" || parts[1] == "" {
		return false
	}
	if !strings.Contains(parts[1], ".") {
		return false
	}
	return strings.IndexFunc(email, func(r rune) bool { return r == ' ' || r == '\t' }) < 0
}

// NormalizeAndValidate canonicalizes raw and rejects addresses that cannot
// name an account.
func NormalizeAndValidate(raw string) (string, error) {
	email := Normalize(raw)
	if !Valid(email) {
		return "", apperr.New(apperr.CodeInvalidInput, "identity must be a valid email address")
	}
	return email, nil
}

// Package otp generates and shape-checks fixed-width numeric one-time codes.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Bounds on the configurable code width. Below four digits the space is
// guessable within a handful of attempts even with the suspension tracker.
const (
	MinDigits = 4
	MaxDigits = 10
)

// Generate returns a uniformly random code of exactly the given width,
// left-padded with zeros. The draw uses crypto/rand over the full 10^digits
// space so every code, leading zeros included, is equally likely.
func Generate(digits int) (string, error) {
	if digits < MinDigits || digits > MaxDigits {
		return "", fmt.Errorf("otp width must be between %d and %d digits, got %d", MinDigits, MaxDigits, digits)
	}

	space := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, space)
	if err != nil {
		return "", fmt.Errorf("draw one-time code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// ValidShape reports whether code looks like a generated one-time code of the
// given width. It touches no store, so callers can reject junk before any
// lookup happens.
func ValidShape(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

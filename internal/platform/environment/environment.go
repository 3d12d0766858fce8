// Package environment centralizes the deployment-environment policy.
// Every behavior gate (bypass codes, placeholder signing secrets, cookie
// hardening) consults this one allow-list instead of sprinkling its own
// string comparisons, so a new environment name defaults to hardened.
package environment

import (
	"os"
	"strings"
)

// EnvVar names the process variable that carries the deployment environment.
const EnvVar = "USHER_ENVIRONMENT"

// Source yields the current environment name. It is a function, not a
// snapshot, so gates observe changes made after boot.
type Source func() string

// IsNonProduction reports whether name is on the explicit non-production
// allow-list. Unrecognized names count as production.
func IsNonProduction(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "development", "test":
		return true
	}
	return false
}

// NonProduction reports whether the source currently names a relaxed environment.
func (s Source) NonProduction() bool {
	return IsNonProduction(s())
}

// Hardened reports whether production rules apply.
func (s Source) Hardened() bool {
	return !s.NonProduction()
}

// FromEnv returns a Source that reads the named process variable on every
// call, falling back to the supplied value when unset.
func FromEnv(key, fallback string) Source {
	return func() string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
}

// Static returns a Source pinned to a fixed name. Test helper.
func Static(name string) Source {
	return func() string { return name }
}

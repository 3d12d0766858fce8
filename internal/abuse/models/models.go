// Package models holds the abuse guard data model shared by the rate
// limiter, the suspension tracker, and their stores.
package models

import "time"

// Scope labels for the two rate limit counters. Used as key prefixes and
// metric label values.
const (
	ScopeIdentity = "identity"
	ScopeOrigin   = "origin"
)

// Counter describes one rate limit counter: at most Max events inside
// Window, tracked under Key.
type Counter struct {
	Key    string
	Max    int
	Window time.Duration
}

// Decision is the outcome of a rate limit check. When the request is
// blocked, RetryAfter is the smallest remaining window time among the
// counters that blocked it.
type Decision struct {
	Allowed         bool
	RetryAfter      time.Duration
	IdentityBlocked bool
	OriginBlocked   bool
}

// SuspensionRecord tracks consecutive failed verification attempts for an
// identity. Records are stored as JSON in the Redis variant.
type SuspensionRecord struct {
	Identity       string     `json:"identity"`
	Failures       int        `json:"failures"`
	LastFailureAt  time.Time  `json:"last_failure_at"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
}

// IsSuspended reports whether the record's lockout covers the given time.
// The lockout timestamp is authoritative; the failure count alone never
// suspends.
func (r *SuspensionRecord) IsSuspended(now time.Time) bool {
	return r.SuspendedUntil != nil && now.Before(*r.SuspendedUntil)
}

// NextFailure applies one failed attempt at time now and returns the
// resulting record. While a lockout is active the previous record is
// returned unchanged. A failure after an elapsed lockout starts a fresh
// series at one. Reaching threshold stamps the lockout.
func NextFailure(prev *SuspensionRecord, identity string, now time.Time, threshold int, lockout time.Duration) *SuspensionRecord {
	if prev != nil && prev.IsSuspended(now) {
		return prev
	}

	next := &SuspensionRecord{Identity: identity, Failures: 1, LastFailureAt: now}
	if prev != nil && prev.SuspendedUntil == nil {
		next.Failures = prev.Failures + 1
	}
	if next.Failures >= threshold {
		until := now.Add(lockout)
		next.SuspendedUntil = &until
	}
	return next
}

// Status is the externally visible suspension state for an identity.
type Status struct {
	Suspended bool
	Until     time.Time
	Attempts  int
}

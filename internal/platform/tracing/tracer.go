// Package tracing provides a lightweight tracing abstraction for the auth flows.
//
// The interface keeps OpenTelemetry out of service signatures: services hold a
// Tracer, tests inject the no-op, and production wires the OTel adapter.
// Identities are hashed before they reach span attributes so traces can be
// correlated without exposing email addresses.
package tracing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, recording any error that occurred.
	// End must be called exactly once, typically via defer.
	End(err error)

	// SetAttributes adds key-value pairs to the span.
	SetAttributes(attrs ...Attribute)

	// AddEvent records a timestamped event within the span.
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans for distributed tracing.
// Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a new span with the given name and attributes.
	// The returned context contains the new span and should be passed to
	// child operations. The span must be ended by calling Span.End().
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashIdentity returns a truncated SHA-256 hash of the identity for safe
// inclusion in traces. Correlation works; the email address does not leak.
func HashIdentity(identity string) string {
	if identity == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(hash[:8])
}

// Span names used by the session service.
const (
	SpanRequestChallenge = "auth.challenge.request"
	SpanRedeem           = "auth.redeem"
	SpanRefresh          = "auth.refresh"
	SpanLogout           = "auth.logout"
	SpanLogoutAll        = "auth.logout_all"
	SpanVerify           = "auth.verify"
)

// Attribute keys used by the session service.
const (
	AttrIdentityHash = "identity_hash"
	AttrOrigin       = "origin"
	AttrOutcome      = "outcome"
	AttrBypass       = "bypass"
	AttrRevoked      = "revoked_count"
)

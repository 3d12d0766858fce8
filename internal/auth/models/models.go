package models

import "time"

// Challenge is a pending one-time code bound to an identity. Only the bcrypt
// hash of the code is kept; the plaintext exists solely in the delivery email.
// At most one challenge is live per identity, a new Issue overwrites it.
type Challenge struct {
	Identity  string    `json:"identity"`
	CodeHash  string    `json:"code_hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge is past its TTL at the given instant.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RefreshTokenRecord binds an opaque refresh token to an identity. The token
// value itself is the lookup key; losing the record permanently invalidates
// the token. DeviceLabel and Origin are display metadata for the sessions
// view and carry no authorization weight.
type RefreshTokenRecord struct {
	Token       string    `json:"token"`
	Identity    string    `json:"identity"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	DeviceLabel string    `json:"device_label,omitempty"`
	Origin      string    `json:"origin,omitempty"`
}

// Expired reports whether the record is past its TTL at the given instant.
func (r *RefreshTokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

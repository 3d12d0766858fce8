package models

import "time"

// This file contains transport-layer response models for JSON output.
// These are shaped for API responses and should avoid domain behavior.

// ChallengeResult is the response payload for /auth/challenge. The code is
// never echoed; it travels only through the delivery channel.
type ChallengeResult struct {
	Status    string `json:"status"`
	ExpiresIn int    `json:"expires_in"` // seconds until the code expires
}

// TokenResult is the response payload for /auth/verify and /auth/refresh.
// RefreshToken is empty on refresh responses; the existing token stays valid.
type TokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds until access token expiration
}

// MeResult is the response payload for /auth/me.
type MeResult struct {
	Email string `json:"email"`
}

// SessionSummary describes one live refresh token for display to the user.
// The token value itself never leaves the store.
type SessionSummary struct {
	Device    string    `json:"device"`
	Origin    string    `json:"origin,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

// SessionsResult is the response payload for /auth/sessions.
type SessionsResult struct {
	Sessions []SessionSummary `json:"sessions"`
}

// LogoutResult reports whether a refresh token was actually revoked.
type LogoutResult struct {
	Revoked bool `json:"revoked"`
}

// LogoutAllResult reports how many sessions were revoked during logout-all.
type LogoutAllResult struct {
	RevokedCount int `json:"revoked_count"`
}

package models

// ChallengeRequest asks for a one-time code to be emailed to an identity.
type ChallengeRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// RedeemRequest exchanges a delivered one-time code for tokens.
type RedeemRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Code  string `json:"code" validate:"required,notblank,max=64"`
}

// RefreshRequest carries a refresh token for clients that cannot use the
// cookie. When both are present the cookie wins.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty" validate:"omitempty,max=128"`
}

// LogoutRequest carries the refresh token to revoke, with the same cookie
// fallback as RefreshRequest.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty" validate:"omitempty,max=128"`
}

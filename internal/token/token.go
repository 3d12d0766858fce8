// Package token mints and verifies the stateless access tokens that prove a
// completed challenge. Refresh tokens are opaque random values owned by the
// refresh store; only access tokens are JWTs.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"usher/internal/platform/config"
	"usher/internal/platform/environment"
	"usher/pkg/apperr"
	"usher/pkg/requesttime"
)

// Claims represents the JWT claims carried by access tokens.
// The identity lives in the standard subject; the email claim mirrors it for
// clients that read tokens directly.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity returns the account the token was minted for.
func (c *Claims) Identity() string {
	return c.Subject
}

// Issuer creates and validates access tokens with a shared HS256 secret.
type Issuer struct {
	signingKey string
	issuer     string
	audience   string
	ttl        time.Duration
	env        environment.Source
}

// New creates a token issuer. The environment source is consulted on every
// mint and verify, not at construction, so a deployment promoted to
// production starts refusing the placeholder secret immediately.
func New(cfg config.Token, env environment.Source) *Issuer {
	return &Issuer{
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		ttl:        cfg.TTL,
		env:        env,
	}
}

// TTL reports the configured access token lifetime. Transports use it to
// align cookie expiry with the token's own expiry.
func (s *Issuer) TTL() time.Duration {
	return s.ttl
}

// Mint creates a signed access token for the identity.
func (s *Issuer) Mint(ctx context.Context, identity string) (string, error) {
	if err := s.checkSigningKey(); err != nil {
		return "", err
	}

	now := requesttime.Now(ctx)
	claims := Claims{
		Email: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.signingKey))
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "could not sign access token")
	}
	return signed, nil
}

// Verify parses and validates an access token, returning its claims.
// Expired tokens and structurally unusable tokens report distinct codes so
// clients know whether to refresh or to restart authentication.
func (s *Issuer) Verify(ctx context.Context, raw string) (*Claims, error) {
	if err := s.checkSigningKey(); err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, apperr.New(apperr.CodeMalformed, "empty token")
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(s.signingKey), nil
	}, jwt.WithTimeFunc(func() time.Time { return requesttime.Now(ctx) }))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.New(apperr.CodeExpired, "token expired")
		}
		return nil, apperr.New(apperr.CodeMalformed, "invalid token")
	}

	if !parsed.Valid {
		return nil, apperr.New(apperr.CodeMalformed, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, apperr.New(apperr.CodeMalformed, "invalid token claims")
	}

	if claims.Issuer != s.issuer {
		return nil, apperr.New(apperr.CodeMalformed, "invalid token issuer")
	}

	return claims, nil
}

// checkSigningKey refuses to operate with an unusable secret. An empty key
// is always fatal; the well-known development placeholder is fatal whenever
// the environment, read now, is hardened.
func (s *Issuer) checkSigningKey() error {
	if s.signingKey == "" {
		return apperr.New(apperr.CodeConfiguration, "signing secret is not configured")
	}
	if s.signingKey == config.DevSigningKey && s.env.Hardened() {
		return apperr.New(apperr.CodeConfiguration, "signing secret is the development placeholder")
	}
	return nil
}

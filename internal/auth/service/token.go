package service

import (
	"context"

	"usher/internal/audit"
	"usher/internal/auth/models"
	"usher/internal/platform/tracing"
	"usher/internal/token"
	"usher/pkg/apperr"
)

// Refresh mints a new access token for the identity bound to the refresh
// token. The refresh token itself is not rotated; it stays valid until
// logout or its own expiry. Any failure means the caller should discard its
// cached tokens and restart the challenge flow.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (result *models.TokenResult, err error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanRefresh)
	defer func() { span.End(err) }()

	if refreshToken == "" {
		err = apperr.New(apperr.CodeInvalidInput, "refresh token is required")
		return nil, err
	}

	rec, err := s.refresh.Validate(ctx, refreshToken)
	if err != nil {
		s.logFailure(ctx, "refresh token rejected", err)
		return nil, err
	}
	span.SetAttributes(tracing.String(tracing.AttrIdentityHash, tracing.HashIdentity(rec.Identity)))

	access, err := s.tokens.Mint(ctx, rec.Identity)
	if err != nil {
		s.logFailure(ctx, "access token mint failed", err)
		return nil, err
	}

	s.incrementTokensRefreshed()
	s.logAudit(ctx, audit.EventTokenRefreshed, rec.Identity, rec.Origin, "success", "")
	s.logger.InfoContext(ctx, "access token refreshed",
		"identity_hash", tracing.HashIdentity(rec.Identity),
	)
	return &models.TokenResult{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokens.TTL().Seconds()),
	}, nil
}

// Verify checks an access token and returns its claims. Other endpoints use
// this through the auth middleware to guard protected routes.
func (s *Service) Verify(ctx context.Context, accessToken string) (claims *token.Claims, err error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanVerify)
	defer func() { span.End(err) }()

	claims, err = s.tokens.Verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracing.String(tracing.AttrIdentityHash, tracing.HashIdentity(claims.Identity())))
	return claims, nil
}

package service

import (
	"context"
	"strconv"

	"usher/internal/audit"
	"usher/internal/auth/models"
	"usher/internal/platform/tracing"
	"usher/pkg/apperr"
)

// Logout invalidates a single refresh token. Logging out an unknown or
// already-revoked token succeeds with Revoked false; the end state is the
// same either way.
func (s *Service) Logout(ctx context.Context, refreshToken string) (result *models.LogoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanLogout)
	defer func() { span.End(err) }()

	if refreshToken == "" {
		err = apperr.New(apperr.CodeInvalidInput, "refresh token is required")
		return nil, err
	}

	removed, err := s.refresh.Invalidate(ctx, refreshToken)
	if err != nil {
		s.logFailure(ctx, "logout failed", err)
		return nil, err
	}

	if removed {
		s.incrementRefreshRevoked(1)
		s.logAudit(ctx, audit.EventLoggedOut, "", "", "success", "")
	}
	return &models.LogoutResult{Revoked: removed}, nil
}

// LogoutAll invalidates every refresh token bound to the identity. Only an
// authenticated caller reaches this; the identity comes from their verified
// access token, never from the request body.
func (s *Service) LogoutAll(ctx context.Context, email string) (result *models.LogoutAllResult, err error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanLogoutAll,
		tracing.String(tracing.AttrIdentityHash, tracing.HashIdentity(email)),
	)
	defer func() { span.End(err) }()

	count, err := s.refresh.InvalidateAll(ctx, email)
	if err != nil {
		s.logFailure(ctx, "logout-all failed", err)
		return nil, err
	}
	span.SetAttributes(tracing.Int64(tracing.AttrRevoked, int64(count)))

	s.incrementRefreshRevoked(count)
	s.logAudit(ctx, audit.EventLoggedOutAll, email, "", "success", strconv.Itoa(count)+" sessions revoked")
	s.logger.InfoContext(ctx, "all sessions revoked",
		"identity_hash", tracing.HashIdentity(email),
		"revoked", count,
	)
	return &models.LogoutAllResult{RevokedCount: count}, nil
}

// Sessions lists the identity's live refresh tokens as display summaries.
// currentToken, when non-empty, marks which summary belongs to the session
// making the call. Raw token values never leave the store layer.
func (s *Service) Sessions(ctx context.Context, email, currentToken string) (*models.SessionsResult, error) {
	records, err := s.refresh.ListByIdentity(ctx, email)
	if err != nil {
		s.logFailure(ctx, "session listing failed", err)
		return nil, err
	}

	summaries := make([]models.SessionSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, models.SessionSummary{
			Device:    rec.DeviceLabel,
			Origin:    rec.Origin,
			IssuedAt:  rec.IssuedAt,
			ExpiresAt: rec.ExpiresAt,
			Current:   currentToken != "" && rec.Token == currentToken,
		})
	}
	return &models.SessionsResult{Sessions: summaries}, nil
}

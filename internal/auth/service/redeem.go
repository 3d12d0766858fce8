package service

import (
	"context"
	"crypto/subtle"

	"usher/internal/abuse/suspension"
	"usher/internal/audit"
	"usher/internal/auth/device"
	"usher/internal/auth/models"
	"usher/internal/auth/otp"
	"usher/internal/platform/tracing"
	"usher/pkg/apperr"
	"usher/pkg/identity"
	"usher/pkg/requesttime"
	"usher/pkg/secrets"
)

// Redeem exchanges a one-time code for an access and refresh token pair.
// userAgent feeds the session's device label; origin is kept as session
// metadata and for the audit trail.
func (s *Service) Redeem(ctx context.Context, rawIdentity, code, userAgent, origin string) (result *models.TokenResult, err error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanRedeem,
		tracing.String(tracing.AttrOrigin, origin),
	)
	defer func() { span.End(err) }()

	// 1. Normalize and validate the identity before any store access.
	email, err := identity.NormalizeAndValidate(rawIdentity)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracing.String(tracing.AttrIdentityHash, tracing.HashIdentity(email)))

	// 2. Bypass path. The environment indicator is read at redeem time, so
	// a process promoted to production stops honoring the code without a
	// restart. The comparison is constant-time and the bypass still resets
	// the suspension counter, keeping local flows faithful to real ones.
	if s.bypassRedeem(code) {
		span.SetAttributes(tracing.Bool(tracing.AttrBypass, true))
		s.recordRedeemOutcome("bypass")
		s.logAudit(ctx, audit.EventBypassUsed, email, origin, "success", "")
		if rerr := s.suspensions.Reset(ctx, email); rerr != nil {
			s.logFailure(ctx, "suspension reset failed", rerr)
		}
		result, err = s.issueTokens(ctx, email, userAgent, origin)
		return result, err
	}

	// 3. Reject junk before touching any store.
	if !otp.ValidShape(code, s.cfg.OTPDigits) {
		s.recordRedeemOutcome("invalid_shape")
		err = apperr.Newf(apperr.CodeInvalidInput, "code must be exactly %d digits", s.cfg.OTPDigits)
		return nil, err
	}

	// 4. Suspended identities cannot redeem, correct code or not.
	status, err := s.suspensions.IsSuspended(ctx, email)
	if err != nil {
		s.logFailure(ctx, "suspension check failed", err)
		return nil, err
	}
	if status.Suspended {
		remaining := suspension.RemainingLockout(status, requesttime.Now(ctx))
		s.recordRedeemOutcome("suspended")
		s.logAudit(ctx, audit.EventRedeemFailed, email, origin, "denied", "suspended")
		err = apperr.WithRetryAfter(apperr.CodeSuspended, "identity is temporarily suspended", remaining)
		return nil, err
	}

	// 5. Check the code against the stored challenge.
	if err = s.challenges.Validate(ctx, email, code); err != nil {
		err = s.redeemValidationFailure(ctx, email, origin, err)
		return nil, err
	}

	// 6. The redeem is good: clear abuse state and consume the challenge
	// before minting anything. The challenge must die before tokens exist,
	// or the same code could establish two sessions.
	if rerr := s.suspensions.Reset(ctx, email); rerr != nil {
		// Counter state can only over-count from here; not worth failing
		// the redeem over.
		s.logFailure(ctx, "suspension reset failed", rerr)
	}
	if err = s.challenges.Invalidate(ctx, email); err != nil {
		s.logFailure(ctx, "challenge invalidate failed", err)
		return nil, err
	}

	s.recordRedeemOutcome("success")
	s.logAudit(ctx, audit.EventRedeemed, email, origin, "success", "")
	result, err = s.issueTokens(ctx, email, userAgent, origin)
	return result, err
}

// bypassRedeem reports whether the presented code is the configured bypass
// and the environment allows honoring it.
func (s *Service) bypassRedeem(code string) bool {
	if s.cfg.BypassCode == "" || !s.env.NonProduction() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(s.cfg.BypassCode)) == 1
}

// redeemValidationFailure maps a challenge validation error to the caller's
// error and feeds the suspension tracker. Only a wrong guess against a live
// challenge counts as a failed attempt; redeeming into the void does not.
func (s *Service) redeemValidationFailure(ctx context.Context, email, origin string, verr error) error {
	switch apperr.CodeOf(verr) {
	case apperr.CodeMismatch:
		s.recordRedeemOutcome("mismatch")
		status, rerr := s.suspensions.RecordFailure(ctx, email)
		if rerr != nil {
			s.logFailure(ctx, "failure accounting failed", rerr)
			s.logAudit(ctx, audit.EventRedeemFailed, email, origin, "failure", "mismatch")
			return verr
		}
		if status.Suspended {
			s.logAudit(ctx, audit.EventSuspended, email, origin, "denied", "failure threshold reached")
			remaining := suspension.RemainingLockout(status, requesttime.Now(ctx))
			return apperr.WithRetryAfter(apperr.CodeSuspended, "identity is temporarily suspended", remaining)
		}
		s.logAudit(ctx, audit.EventRedeemFailed, email, origin, "failure", "mismatch")
		return verr
	case apperr.CodeExpired:
		s.recordRedeemOutcome("expired")
		s.logAudit(ctx, audit.EventRedeemFailed, email, origin, "failure", "expired")
		return verr
	case apperr.CodeNotFound:
		s.recordRedeemOutcome("not_found")
		s.logAudit(ctx, audit.EventRedeemFailed, email, origin, "failure", "no pending challenge")
		return verr
	default:
		s.recordRedeemOutcome("error")
		s.logFailure(ctx, "challenge validation failed", verr)
		return verr
	}
}

// issueTokens mints the access token and persists a fresh refresh token
// carrying the session metadata.
func (s *Service) issueTokens(ctx context.Context, email, userAgent, origin string) (*models.TokenResult, error) {
	access, err := s.tokens.Mint(ctx, email)
	if err != nil {
		s.logFailure(ctx, "access token mint failed", err)
		return nil, err
	}

	refreshValue, err := secrets.Generate()
	if err != nil {
		s.logFailure(ctx, "refresh token generation failed", err)
		return nil, err
	}

	now := requesttime.Now(ctx)
	rec := &models.RefreshTokenRecord{
		Token:       refreshValue,
		Identity:    email,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
		DeviceLabel: device.Label(userAgent),
		Origin:      origin,
	}
	if err := s.refresh.Issue(ctx, rec); err != nil {
		s.logFailure(ctx, "refresh token persist failed", err)
		return nil, err
	}

	s.incrementTokensMinted()
	s.logger.InfoContext(ctx, "session established",
		"identity_hash", tracing.HashIdentity(email),
		"device", rec.DeviceLabel,
	)
	return &models.TokenResult{
		AccessToken:  access,
		RefreshToken: refreshValue,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokens.TTL().Seconds()),
	}, nil
}

package service

import (
	"context"

	abuse "usher/internal/abuse/models"
	"usher/internal/abuse/suspension"
	"usher/internal/audit"
	"usher/internal/auth/otp"
	"usher/internal/platform/tracing"
	"usher/pkg/apperr"
	"usher/pkg/identity"
	"usher/pkg/requesttime"
)

// RequestChallenge issues a one-time code for the identity and emails it.
// origin is the caller's network origin (client IP) used for rate limiting.
//
// The abuse checks run in a fixed order: suspension first, so a locked-out
// identity cannot burn rate limit budget, then the rate limiter, which
// consumes from both counters atomically or not at all.
func (s *Service) RequestChallenge(ctx context.Context, rawIdentity, origin string) (err error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanRequestChallenge,
		tracing.String(tracing.AttrOrigin, origin),
	)
	defer func() { span.End(err) }()

	// 1. Normalize and validate the identity before any store access.
	email, err := identity.NormalizeAndValidate(rawIdentity)
	if err != nil {
		return err
	}
	span.SetAttributes(tracing.String(tracing.AttrIdentityHash, tracing.HashIdentity(email)))

	// 2. Suspended identities get nothing until the lockout elapses.
	status, err := s.suspensions.IsSuspended(ctx, email)
	if err != nil {
		s.logFailure(ctx, "suspension check failed", err)
		return err
	}
	if status.Suspended {
		remaining := suspension.RemainingLockout(status, requesttime.Now(ctx))
		s.logAudit(ctx, audit.EventChallengeRequested, email, origin, "denied", "suspended")
		err = apperr.WithRetryAfter(apperr.CodeSuspended, "identity is temporarily suspended", remaining)
		return err
	}

	// 3. Consume rate limit budget for both counters or neither.
	decision, err := s.limiter.CheckAndConsume(ctx, email, origin)
	if err != nil {
		s.logFailure(ctx, "rate limit check failed", err)
		return err
	}
	if !decision.Allowed {
		s.logAudit(ctx, audit.EventRateLimited, email, origin, "denied", rateLimitReason(decision))
		err = apperr.WithRetryAfter(apperr.CodeRateLimited, "too many challenge requests", decision.RetryAfter)
		return err
	}

	// 4. Generate and persist the challenge. A prior pending challenge for
	// the identity is overwritten.
	code, err := otp.Generate(s.cfg.OTPDigits)
	if err != nil {
		err = apperr.Wrap(err, apperr.CodeInternal, "could not generate one-time code")
		s.logFailure(ctx, "code generation failed", err)
		return err
	}
	if err = s.challenges.Issue(ctx, email, code); err != nil {
		s.logFailure(ctx, "challenge persist failed", err)
		return err
	}

	// 5. Deliver the code. No store lock is held here; the send only races
	// against the challenge's own TTL. On failure the persisted challenge
	// survives so the user can simply request again.
	if err = s.sendCode(ctx, email, code); err != nil {
		s.incrementDeliveryFailures()
		s.logAudit(ctx, audit.EventDeliveryFailed, email, origin, "failure", err.Error())
		s.logFailure(ctx, "code delivery failed", err, "identity_hash", tracing.HashIdentity(email))
		err = apperr.Wrap(err, apperr.CodeDeliveryFailed, "could not deliver one-time code")
		return err
	}

	s.incrementChallengesIssued()
	s.logAudit(ctx, audit.EventChallengeRequested, email, origin, "success", "")
	s.logger.InfoContext(ctx, "challenge issued",
		"identity_hash", tracing.HashIdentity(email),
		"origin", origin,
	)
	return nil
}

// sendCode runs the delivery under its own deadline so a slow mail hop
// cannot pin the request forever.
func (s *Service) sendCode(ctx context.Context, email, code string) error {
	if s.cfg.EmailTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.EmailTimeout)
		defer cancel()
	}
	return s.sender.SendCode(ctx, email, code)
}

func rateLimitReason(d *abuse.Decision) string {
	switch {
	case d.IdentityBlocked && d.OriginBlocked:
		return "identity and origin limits exceeded"
	case d.OriginBlocked:
		return "origin limit exceeded"
	default:
		return "identity limit exceeded"
	}
}

package service

import (
	"errors"
	"time"

	"usher/internal/audit"
	"usher/internal/auth/otp"
	"usher/pkg/apperr"
)

func (s *ServiceSuite) TestRequestChallenge_DeliversCode() {
	ctx := s.at(s.start)

	err := s.service.RequestChallenge(ctx, testRawIdentity, testOrigin)
	s.Require().NoError(err)

	code := s.sender.lastCode(testIdentity)
	s.Require().NotEmpty(code, "code must be delivered to the normalized identity")
	s.True(otp.ValidShape(code, 6))

	s.Contains(s.auditActions(testIdentity), string(audit.EventChallengeRequested))

	events, err := s.auditTrail.List(ctx, testIdentity)
	s.Require().NoError(err)
	s.Require().NotEmpty(events)
	s.Equal("203.0.113.0", events[0].Origin, "audit trail must not keep the full client address")
}

func (s *ServiceSuite) TestRequestChallenge_InvalidIdentity() {
	ctx := s.at(s.start)

	for _, raw := range []string{"", "not-an-email", "missing@domain", "@nobody"} {
		err := s.service.RequestChallenge(ctx, raw, testOrigin)
		s.Require().Error(err)
		s.True(apperr.HasCode(err, apperr.CodeInvalidInput), "identity %q", raw)
	}

	s.Empty(s.sender.codes, "nothing may be delivered for rejected identities")
}

func (s *ServiceSuite) TestRequestChallenge_RateLimited() {
	ctx := s.at(s.start)

	for i := 0; i < identityLimit; i++ {
		s.Require().NoError(s.service.RequestChallenge(ctx, testRawIdentity, testOrigin))
	}

	err := s.service.RequestChallenge(ctx, testRawIdentity, testOrigin)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeRateLimited))
	s.Greater(apperr.RetryAfterOf(err), time.Duration(0))
	s.LessOrEqual(apperr.RetryAfterOf(err), rateWindow)

	s.Contains(s.auditActions(testIdentity), string(audit.EventRateLimited))
}

func (s *ServiceSuite) TestRequestChallenge_RateLimitWindowPasses() {
	ctx := s.at(s.start)
	for i := 0; i < identityLimit; i++ {
		s.Require().NoError(s.service.RequestChallenge(ctx, testRawIdentity, testOrigin))
	}
	s.Require().Error(s.service.RequestChallenge(ctx, testRawIdentity, testOrigin))

	later := s.at(s.start.Add(rateWindow + time.Second))
	s.NoError(s.service.RequestChallenge(later, testRawIdentity, testOrigin))
}

func (s *ServiceSuite) TestRequestChallenge_SuspendedIdentity() {
	ctx := s.at(s.start)

	// Push the identity over the failure threshold directly.
	for i := 0; i < suspensionThreshold; i++ {
		_, err := s.suspensions.RecordFailure(ctx, testIdentity)
		s.Require().NoError(err)
	}

	err := s.service.RequestChallenge(ctx, testRawIdentity, testOrigin)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeSuspended))

	retry := apperr.RetryAfterOf(err)
	s.Greater(retry, time.Duration(0))
	s.LessOrEqual(retry, suspensionLockout)

	s.Empty(s.sender.codes, "no code may be issued to a suspended identity")
}

func (s *ServiceSuite) TestRequestChallenge_DeliveryFailure() {
	ctx := s.at(s.start)
	s.sender.failWith(errors.New("smtp connection refused"))

	err := s.service.RequestChallenge(ctx, testRawIdentity, testOrigin)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeDeliveryFailed))
	s.Contains(s.auditActions(testIdentity), string(audit.EventDeliveryFailed))

	// The failure is transient from the user's point of view: the next
	// request goes through once delivery recovers.
	s.sender.failWith(nil)
	s.NoError(s.service.RequestChallenge(ctx, testRawIdentity, testOrigin))
	s.NotEmpty(s.sender.lastCode(testIdentity))
}

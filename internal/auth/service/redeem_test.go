package service

import (
	"time"

	"usher/internal/audit"
	"usher/internal/platform/environment"
	"usher/pkg/apperr"
)

func (s *ServiceSuite) TestRedeem_Success() {
	ctx := s.at(s.start)
	code := s.requestCode(ctx)

	result, err := s.service.Redeem(ctx, testRawIdentity, code, testUserAgent, testOrigin)
	s.Require().NoError(err)

	s.Run("access token carries the normalized identity", func() {
		claims, err := s.issuer.Verify(ctx, result.AccessToken)
		s.Require().NoError(err)
		s.Equal(testIdentity, claims.Identity())
	})

	s.Run("token pair is complete", func() {
		s.NotEmpty(result.RefreshToken)
		s.Equal("Bearer", result.TokenType)
		s.Equal(3600, result.ExpiresIn)
	})

	s.Run("challenge is single use", func() {
		_, err := s.service.Redeem(ctx, testRawIdentity, code, testUserAgent, testOrigin)
		s.Require().Error(err)
		s.True(apperr.HasCode(err, apperr.CodeNotFound))
	})

	s.Contains(s.auditActions(testIdentity), string(audit.EventRedeemed))
}

func (s *ServiceSuite) TestRedeem_WrongCodeKeepsChallengeAlive() {
	ctx := s.at(s.start)
	code := s.requestCode(ctx)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	_, err := s.service.Redeem(ctx, testRawIdentity, wrong, testUserAgent, testOrigin)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeMismatch))

	// A failed guess must not consume the real challenge.
	_, err = s.service.Redeem(ctx, testRawIdentity, code, testUserAgent, testOrigin)
	s.NoError(err)
}

func (s *ServiceSuite) TestRedeem_InvalidShape() {
	ctx := s.at(s.start)
	s.requestCode(ctx)

	for _, code := range []string{"", "12345", "1234567", "12ab56", "      "} {
		_, err := s.service.Redeem(ctx, testRawIdentity, code, testUserAgent, testOrigin)
		s.Require().Error(err)
		s.True(apperr.HasCode(err, apperr.CodeInvalidInput), "code %q", code)
	}

	// Shape rejections never feed the suspension counter.
	status, err := s.suspensions.IsSuspended(s.at(s.start), testIdentity)
	s.Require().NoError(err)
	s.Equal(0, status.Attempts)
}

func (s *ServiceSuite) TestRedeem_RepeatedFailuresSuspend() {
	ctx := s.at(s.start)
	code := s.requestCode(ctx)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	// The first threshold-1 wrong guesses are plain mismatches.
	for i := 0; i < suspensionThreshold-1; i++ {
		_, err := s.service.Redeem(ctx, testRawIdentity, wrong, testUserAgent, testOrigin)
		s.Require().Error(err)
		s.True(apperr.HasCode(err, apperr.CodeMismatch))
	}

	// The guess that crosses the threshold reports the fresh suspension.
	_, err := s.service.Redeem(ctx, testRawIdentity, wrong, testUserAgent, testOrigin)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeSuspended))
	s.Greater(apperr.RetryAfterOf(err), time.Duration(0))
	s.Contains(s.auditActions(testIdentity), string(audit.EventSuspended))

	s.Run("even the correct code is refused during the lockout", func() {
		_, err := s.service.Redeem(ctx, testRawIdentity, code, testUserAgent, testOrigin)
		s.Require().Error(err)
		s.True(apperr.HasCode(err, apperr.CodeSuspended))
	})

	s.Run("the correct code works once the lockout elapses", func() {
		later := s.at(s.start.Add(suspensionLockout + time.Second))
		result, err := s.service.Redeem(later, testRawIdentity, code, testUserAgent, testOrigin)
		s.Require().NoError(err)
		s.NotEmpty(result.AccessToken)
	})
}

func (s *ServiceSuite) TestRedeem_MissingChallengeIsNotAFailedAttempt() {
	ctx := s.at(s.start)

	// Well-formed guesses against an identity with no pending challenge.
	for i := 0; i < suspensionThreshold+2; i++ {
		_, err := s.service.Redeem(ctx, testRawIdentity, "123456", testUserAgent, testOrigin)
		s.Require().Error(err)
		s.True(apperr.HasCode(err, apperr.CodeNotFound))
	}

	status, err := s.suspensions.IsSuspended(ctx, testIdentity)
	s.Require().NoError(err)
	s.False(status.Suspended, "guessing into the void must not suspend")
	s.Equal(0, status.Attempts)
}

func (s *ServiceSuite) TestRedeem_ExpiredCode() {
	ctx := s.at(s.start)
	code := s.requestCode(ctx)

	late := s.at(s.start.Add(otpTTL + time.Second))

	_, err := s.service.Redeem(late, testRawIdentity, code, testUserAgent, testOrigin)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeExpired))

	// The expired challenge was reaped; a retry sees nothing.
	_, err = s.service.Redeem(late, testRawIdentity, code, testUserAgent, testOrigin)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeNotFound))
}

func (s *ServiceSuite) TestRedeem_Bypass() {
	dev := s.buildService(environment.Static("development"))
	ctx := s.at(s.start)

	// Seed some failures so the reset is observable.
	_, err := s.suspensions.RecordFailure(ctx, testIdentity)
	s.Require().NoError(err)

	result, err := dev.Redeem(ctx, testRawIdentity, testBypassCode, testUserAgent, testOrigin)
	s.Require().NoError(err, "bypass must work without any pending challenge")
	s.NotEmpty(result.AccessToken)
	s.NotEmpty(result.RefreshToken)
	s.Contains(s.auditActions(testIdentity), string(audit.EventBypassUsed))

	status, err := s.suspensions.IsSuspended(ctx, testIdentity)
	s.Require().NoError(err)
	s.Equal(0, status.Attempts, "bypass resets the suspension counter like a real redeem")
}

func (s *ServiceSuite) TestRedeem_BypassRefusedWhenHardened() {
	prod := s.buildService(environment.Static("production"))
	ctx := s.at(s.start)

	_, err := prod.Redeem(ctx, testRawIdentity, testBypassCode, testUserAgent, testOrigin)
	s.Require().Error(err)
	// In production the bypass value is just a malformed code.
	s.True(apperr.HasCode(err, apperr.CodeInvalidInput))
}

func (s *ServiceSuite) TestRedeem_EnvironmentReadAtCallTime() {
	env := "development"
	svc := s.buildService(environment.Source(func() string { return env }))
	ctx := s.at(s.start)

	_, err := svc.Redeem(ctx, testRawIdentity, testBypassCode, testUserAgent, testOrigin)
	s.Require().NoError(err)

	// Promote the running process; the same service must refuse the bypass.
	env = "production"
	_, err = svc.Redeem(ctx, testRawIdentity, testBypassCode, testUserAgent, testOrigin)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeInvalidInput))
}

func (s *ServiceSuite) TestRedeem_UnknownEnvironmentIsHardened() {
	weird := s.buildService(environment.Static("staging"))
	ctx := s.at(s.start)

	_, err := weird.Redeem(ctx, testRawIdentity, testBypassCode, testUserAgent, testOrigin)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeInvalidInput))
}

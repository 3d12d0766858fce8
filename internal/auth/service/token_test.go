package service

import (
	"time"

	"usher/pkg/apperr"
)

func (s *ServiceSuite) TestRefresh_MintsNewAccessToken() {
	ctx := s.at(s.start)
	code := s.requestCode(ctx)
	issued, err := s.service.Redeem(ctx, testRawIdentity, code, testUserAgent, testOrigin)
	s.Require().NoError(err)

	later := s.at(s.start.Add(time.Hour))
	refreshed, err := s.service.Refresh(later, issued.RefreshToken)
	s.Require().NoError(err)

	claims, err := s.issuer.Verify(later, refreshed.AccessToken)
	s.Require().NoError(err)
	s.Equal(testIdentity, claims.Identity())

	s.Run("refresh token is not rotated", func() {
		s.Empty(refreshed.RefreshToken)

		// The original token keeps working.
		again, err := s.service.Refresh(later, issued.RefreshToken)
		s.Require().NoError(err)
		s.NotEmpty(again.AccessToken)
	})
}

func (s *ServiceSuite) TestRefresh_UnknownToken() {
	_, err := s.service.Refresh(s.at(s.start), "never-issued")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeNotFound))
}

func (s *ServiceSuite) TestRefresh_EmptyToken() {
	_, err := s.service.Refresh(s.at(s.start), "")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeInvalidInput))
}

func (s *ServiceSuite) TestRefresh_ExpiredToken() {
	ctx := s.at(s.start)
	code := s.requestCode(ctx)
	issued, err := s.service.Redeem(ctx, testRawIdentity, code, testUserAgent, testOrigin)
	s.Require().NoError(err)

	// Thirty days later the refresh token itself has expired.
	late := s.at(s.start.Add(30*24*time.Hour + time.Second))

	_, err = s.service.Refresh(late, issued.RefreshToken)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeExpired))

	// The record was reaped on that read.
	_, err = s.service.Refresh(late, issued.RefreshToken)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeNotFound))
}

func (s *ServiceSuite) TestVerify() {
	ctx := s.at(s.start)
	code := s.requestCode(ctx)
	issued, err := s.service.Redeem(ctx, testRawIdentity, code, testUserAgent, testOrigin)
	s.Require().NoError(err)

	s.Run("valid token yields its claims", func() {
		claims, err := s.service.Verify(ctx, issued.AccessToken)
		s.Require().NoError(err)
		s.Equal(testIdentity, claims.Identity())
	})

	s.Run("garbage is malformed", func() {
		_, err := s.service.Verify(ctx, "not-a-jwt")
		s.Require().Error(err)
		s.True(apperr.HasCode(err, apperr.CodeMalformed))
	})

	s.Run("expired token is reported as expired", func() {
		late := s.at(s.start.Add(2 * time.Hour))
		_, err := s.service.Verify(late, issued.AccessToken)
		s.Require().Error(err)
		s.True(apperr.HasCode(err, apperr.CodeExpired))
	})
}

package service

import (
	"time"

	"usher/pkg/apperr"
)

const iphoneUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

// establishSession walks the full challenge/redeem flow and returns the
// refresh token.
func (s *ServiceSuite) establishSession(at time.Time, userAgent string) string {
	ctx := s.at(at)
	code := s.requestCode(ctx)
	result, err := s.service.Redeem(ctx, testRawIdentity, code, userAgent, testOrigin)
	s.Require().NoError(err)
	return result.RefreshToken
}

func (s *ServiceSuite) TestLogout() {
	refreshToken := s.establishSession(s.start, testUserAgent)
	ctx := s.at(s.start)

	result, err := s.service.Logout(ctx, refreshToken)
	s.Require().NoError(err)
	s.True(result.Revoked)

	_, err = s.service.Refresh(ctx, refreshToken)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeNotFound))

	s.Run("logout is idempotent", func() {
		result, err := s.service.Logout(ctx, refreshToken)
		s.Require().NoError(err)
		s.False(result.Revoked)
	})
}

func (s *ServiceSuite) TestLogout_EmptyToken() {
	_, err := s.service.Logout(s.at(s.start), "")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeInvalidInput))
}

func (s *ServiceSuite) TestLogoutAll() {
	first := s.establishSession(s.start, testUserAgent)
	second := s.establishSession(s.start.Add(time.Minute+time.Second), iphoneUserAgent)
	ctx := s.at(s.start.Add(2 * time.Minute))

	result, err := s.service.LogoutAll(ctx, testIdentity)
	s.Require().NoError(err)
	s.Equal(2, result.RevokedCount)

	for _, tok := range []string{first, second} {
		_, err = s.service.Refresh(ctx, tok)
		s.Require().Error(err)
		s.True(apperr.HasCode(err, apperr.CodeNotFound))
	}

	s.Run("a second sweep finds nothing", func() {
		result, err := s.service.LogoutAll(ctx, testIdentity)
		s.Require().NoError(err)
		s.Equal(0, result.RevokedCount)
	})
}

func (s *ServiceSuite) TestSessions() {
	s.establishSession(s.start, testUserAgent)
	current := s.establishSession(s.start.Add(time.Minute+time.Second), iphoneUserAgent)
	ctx := s.at(s.start.Add(2 * time.Minute))

	result, err := s.service.Sessions(ctx, testIdentity, current)
	s.Require().NoError(err)
	s.Require().Len(result.Sessions, 2)

	s.Run("newest session first and marked current", func() {
		s.True(result.Sessions[0].Current)
		s.False(result.Sessions[1].Current)
		s.Contains(result.Sessions[0].Device, "iPhone")
		s.Contains(result.Sessions[1].Device, "Chrome")
	})

	s.Run("summaries expose metadata, never token values", func() {
		for _, session := range result.Sessions {
			s.Equal(testOrigin, session.Origin)
			s.False(session.IssuedAt.IsZero())
			s.True(session.ExpiresAt.After(session.IssuedAt))
		}
	})
}

func (s *ServiceSuite) TestSessions_EmptyForUnknownIdentity() {
	result, err := s.service.Sessions(s.at(s.start), "nobody@example.com", "")
	s.Require().NoError(err)
	s.Empty(result.Sessions)
}

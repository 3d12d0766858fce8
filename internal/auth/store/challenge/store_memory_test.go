package challenge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"usher/pkg/apperr"
	"usher/pkg/requesttime"
)

const challengeTTL = 10 * time.Minute

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	start time.Time
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore(challengeTTL)
	s.start = time.Now()
}

// at pins request time so expiry arithmetic is deterministic.
func (s *InMemoryStoreSuite) at(t time.Time) context.Context {
	return requesttime.WithTime(context.Background(), t)
}

func (s *InMemoryStoreSuite) TestIssueAndValidate() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, "user@example.com", "042719"))

	s.Run("correct code validates", func() {
		s.NoError(s.store.Validate(ctx, "user@example.com", "042719"))
	})

	s.Run("code is stored hashed, not in plaintext", func() {
		ch := s.store.challenges["user@example.com"]
		s.Require().NotNil(ch)
		s.NotEqual("042719", ch.CodeHash)
		s.True(strings.HasPrefix(ch.CodeHash, "$2"))
	})

	s.Run("validation does not consume the challenge", func() {
		s.NoError(s.store.Validate(ctx, "user@example.com", "042719"))
	})
}

func (s *InMemoryStoreSuite) TestValidateUnknownIdentity() {
	err := s.store.Validate(s.at(s.start), "nobody@example.com", "042719")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *InMemoryStoreSuite) TestWrongCodeIsMismatch() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, "user@example.com", "042719"))

	err := s.store.Validate(ctx, "user@example.com", "999999")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeMismatch))

	// A failed guess must not destroy the challenge.
	s.NoError(s.store.Validate(ctx, "user@example.com", "042719"))
}

func (s *InMemoryStoreSuite) TestExpiryIsLazy() {
	s.Require().NoError(s.store.Issue(s.at(s.start), "user@example.com", "042719"))

	late := s.at(s.start.Add(challengeTTL + time.Second))

	// First read past the TTL reports expiry and reaps the record.
	err := s.store.Validate(late, "user@example.com", "042719")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeExpired))

	// Every later read sees no record at all.
	err = s.store.Validate(late, "user@example.com", "042719")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *InMemoryStoreSuite) TestReissueReplacesPriorChallenge() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, "user@example.com", "111111"))
	s.Require().NoError(s.store.Issue(ctx, "user@example.com", "222222"))

	err := s.store.Validate(ctx, "user@example.com", "111111")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeMismatch))

	s.NoError(s.store.Validate(ctx, "user@example.com", "222222"))
}

func (s *InMemoryStoreSuite) TestInvalidateIsIdempotent() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, "user@example.com", "042719"))

	s.Require().NoError(s.store.Invalidate(ctx, "user@example.com"))
	s.Require().ErrorIs(s.store.Validate(ctx, "user@example.com", "042719"), ErrNotFound)

	// Invalidating again must not fail.
	s.NoError(s.store.Invalidate(ctx, "user@example.com"))
	s.NoError(s.store.Invalidate(ctx, "never-issued@example.com"))
}

func (s *InMemoryStoreSuite) TestDeleteExpired() {
	s.Require().NoError(s.store.Issue(s.at(s.start), "old@example.com", "111111"))
	s.Require().NoError(s.store.Issue(s.at(s.start.Add(5*time.Minute)), "fresh@example.com", "222222"))

	cutoff := s.start.Add(challengeTTL + time.Second)
	removed, err := s.store.DeleteExpired(context.Background(), cutoff)
	s.Require().NoError(err)
	s.Equal(1, removed)

	s.ErrorIs(s.store.Validate(s.at(cutoff), "old@example.com", "111111"), ErrNotFound)
	s.NoError(s.store.Validate(s.at(cutoff), "fresh@example.com", "222222"))
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

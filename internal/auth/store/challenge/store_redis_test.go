package challenge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"usher/pkg/apperr"
	"usher/pkg/requesttime"
)

type RedisStoreSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *RedisStore
	start  time.Time
}

func (s *RedisStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.store = NewRedis(s.client, challengeTTL)
	s.start = time.Now()
}

func (s *RedisStoreSuite) TearDownTest() {
	_ = s.client.Close()
}

func (s *RedisStoreSuite) at(t time.Time) context.Context {
	return requesttime.WithTime(context.Background(), t)
}

func (s *RedisStoreSuite) TestIssueAndValidate() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, "user@example.com", "042719"))

	s.NoError(s.store.Validate(ctx, "user@example.com", "042719"))

	err := s.store.Validate(ctx, "user@example.com", "999999")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeMismatch))

	// A failed guess must not destroy the challenge.
	s.NoError(s.store.Validate(ctx, "user@example.com", "042719"))
}

func (s *RedisStoreSuite) TestValidateUnknownIdentity() {
	err := s.store.Validate(s.at(s.start), "nobody@example.com", "042719")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *RedisStoreSuite) TestExpiryIsLazy() {
	s.Require().NoError(s.store.Issue(s.at(s.start), "user@example.com", "042719"))

	// Request time moves past the TTL while the key still lives in Redis.
	late := s.at(s.start.Add(challengeTTL + time.Second))

	err := s.store.Validate(late, "user@example.com", "042719")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeExpired))

	err = s.store.Validate(late, "user@example.com", "042719")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *RedisStoreSuite) TestNaturalTTLReapsKey() {
	s.Require().NoError(s.store.Issue(s.at(s.start), "user@example.com", "042719"))

	s.mr.FastForward(challengeTTL + time.Second)

	// Once Redis reaps the key the record simply does not exist.
	err := s.store.Validate(s.at(s.start), "user@example.com", "042719")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *RedisStoreSuite) TestReissueReplacesPriorChallenge() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, "user@example.com", "111111"))
	s.Require().NoError(s.store.Issue(ctx, "user@example.com", "222222"))

	err := s.store.Validate(ctx, "user@example.com", "111111")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeMismatch))

	s.NoError(s.store.Validate(ctx, "user@example.com", "222222"))
}

func (s *RedisStoreSuite) TestInvalidateIsIdempotent() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, "user@example.com", "042719"))

	s.Require().NoError(s.store.Invalidate(ctx, "user@example.com"))
	s.Require().ErrorIs(s.store.Validate(ctx, "user@example.com", "042719"), ErrNotFound)

	s.NoError(s.store.Invalidate(ctx, "user@example.com"))
}

func (s *RedisStoreSuite) TestCorruptRecord() {
	s.Require().NoError(s.client.Set(context.Background(), challengeKey("user@example.com"), "not-json", 0).Err())

	err := s.store.Validate(s.at(s.start), "user@example.com", "042719")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeInternal))
}

func (s *RedisStoreSuite) TestUnavailableStore() {
	s.Require().NoError(s.client.Close())

	err := s.store.Issue(s.at(s.start), "user@example.com", "042719")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))

	err = s.store.Validate(s.at(s.start), "user@example.com", "042719")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

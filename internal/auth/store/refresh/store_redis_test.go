package refresh

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
	s.store = NewRedis(s.client)
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
	rec := record("tok-1", "user@example.com", s.start)
	s.Require().NoError(s.store.Issue(ctx, rec))

	found, err := s.store.Validate(ctx, "tok-1")
	s.Require().NoError(err)
	s.Equal("user@example.com", found.Identity)
	s.Equal("Chrome on Mac OS X", found.DeviceLabel)
	s.Equal("203.0.113.7", found.Origin)
	s.WithinDuration(rec.ExpiresAt, found.ExpiresAt, time.Second)
}

func (s *RedisStoreSuite) TestValidateUnknownToken() {
	_, err := s.store.Validate(s.at(s.start), "never-issued")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *RedisStoreSuite) TestExpiryIsLazy() {
	s.Require().NoError(s.store.Issue(s.at(s.start), record("tok-1", "user@example.com", s.start)))

	// Request time moves past the TTL while the key still lives in Redis.
	late := s.at(s.start.Add(refreshTTL + time.Second))

	_, err := s.store.Validate(late, "tok-1")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeExpired))

	_, err = s.store.Validate(late, "tok-1")
	s.Require().ErrorIs(err, ErrNotFound)

	// The lazy reap also scrubbed the index.
	records, err := s.store.ListByIdentity(late, "user@example.com")
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *RedisStoreSuite) TestNaturalTTLReapsKey() {
	s.Require().NoError(s.store.Issue(s.at(s.start), record("tok-1", "user@example.com", s.start)))

	s.mr.FastForward(refreshTTL + time.Minute)

	_, err := s.store.Validate(s.at(s.start), "tok-1")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *RedisStoreSuite) TestInvalidateReportsRemoval() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, record("tok-1", "user@example.com", s.start)))

	removed, err := s.store.Invalidate(ctx, "tok-1")
	s.Require().NoError(err)
	s.True(removed)

	removed, err = s.store.Invalidate(ctx, "tok-1")
	s.Require().NoError(err)
	s.False(removed)
}

func (s *RedisStoreSuite) TestInvalidateAll() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, record("tok-1", "user@example.com", s.start)))
	s.Require().NoError(s.store.Issue(ctx, record("tok-2", "user@example.com", s.start)))
	s.Require().NoError(s.store.Issue(ctx, record("tok-3", "other@example.com", s.start)))

	removed, err := s.store.InvalidateAll(ctx, "user@example.com")
	s.Require().NoError(err)
	s.Equal(2, removed)

	_, err = s.store.Validate(ctx, "tok-1")
	s.ErrorIs(err, ErrNotFound)
	_, err = s.store.Validate(ctx, "tok-3")
	s.NoError(err)

	// A second pass finds nothing left.
	removed, err = s.store.InvalidateAll(ctx, "user@example.com")
	s.Require().NoError(err)
	s.Equal(0, removed)
}

func (s *RedisStoreSuite) TestListByIdentity() {
	s.Require().NoError(s.store.Issue(s.at(s.start), record("tok-old", "user@example.com", s.start)))
	s.Require().NoError(s.store.Issue(s.at(s.start), record("tok-new", "user@example.com", s.start.Add(time.Hour))))

	records, err := s.store.ListByIdentity(s.at(s.start.Add(2*time.Hour)), "user@example.com")
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("tok-new", records[0].Token)
	s.Equal("tok-old", records[1].Token)
}

func (s *RedisStoreSuite) TestListRepairsDanglingIndexMembers() {
	ctx := s.at(s.start)
	s.Require().NoError(s.store.Issue(ctx, record("tok-1", "user@example.com", s.start)))
	s.Require().NoError(s.store.Issue(ctx, record("tok-2", "user@example.com", s.start)))

	// Simulate the token key expiring while its index member lingers.
	s.Require().NoError(s.client.Del(context.Background(), tokenKey("tok-1")).Err())

	records, err := s.store.ListByIdentity(ctx, "user@example.com")
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("tok-2", records[0].Token)

	members, err := s.client.SMembers(context.Background(), indexKey("user@example.com")).Result()
	s.Require().NoError(err)
	s.Equal([]string{"tok-2"}, members)
}

func (s *RedisStoreSuite) TestCorruptRecord() {
	s.Require().NoError(s.client.Set(context.Background(), tokenKey("tok-1"), "not-json", 0).Err())

	_, err := s.store.Validate(s.at(s.start), "tok-1")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeInternal))
}

func (s *RedisStoreSuite) TestUnavailableStore() {
	s.Require().NoError(s.client.Close())

	err := s.store.Issue(s.at(s.start), record("tok-1", "user@example.com", s.start))
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))

	_, err = s.store.Validate(s.at(s.start), "tok-1")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))

	_, err = s.store.InvalidateAll(s.at(s.start), "user@example.com")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

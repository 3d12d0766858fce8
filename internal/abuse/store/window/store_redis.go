package window

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"usher/internal/abuse/models"
	"usher/pkg/apperr"
)

const windowKeyPrefix = "rate:"

// RedisStore tracks fixed rate windows in Redis so multiple instances
// share one budget. Counters are plain INCR values with the window TTL
// attached on the first hit.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed window store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(counterKey string) string {
	return windowKeyPrefix + counterKey
}

// AllowPair checks both counters and, only when both are below their
// limits, consumes one slot from each. Concurrent checks can race past the
// read and overshoot a limit briefly; the window still closes on the next
// check.
func (s *RedisStore) AllowPair(ctx context.Context, identity, origin models.Counter) (*models.Decision, error) {
	idKey := s.key(identity.Key)
	orgKey := s.key(origin.Key)

	read := s.client.Pipeline()
	idGet := read.Get(ctx, idKey)
	orgGet := read.Get(ctx, orgKey)
	idTTL := read.PTTL(ctx, idKey)
	orgTTL := read.PTTL(ctx, orgKey)
	if _, err := read.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "rate window read failed")
	}

	idBlocked := identity.Max <= 0 || counterValue(idGet) >= int64(identity.Max)
	orgBlocked := origin.Max <= 0 || counterValue(orgGet) >= int64(origin.Max)
	if idBlocked || orgBlocked {
		var retry time.Duration
		if idBlocked {
			retry = remaining(idTTL, identity.Window)
		}
		if orgBlocked {
			if r := remaining(orgTTL, origin.Window); !idBlocked || r < retry {
				retry = r
			}
		}
		return &models.Decision{
			RetryAfter:      retry,
			IdentityBlocked: idBlocked,
			OriginBlocked:   orgBlocked,
		}, nil
	}

	consume := s.client.Pipeline()
	idIncr := consume.Incr(ctx, idKey)
	orgIncr := consume.Incr(ctx, orgKey)
	if _, err := consume.Exec(ctx); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "rate window consume failed")
	}

	// The first hit in each window owns setting the TTL.
	expire := s.client.Pipeline()
	queued := false
	if idIncr.Val() == 1 {
		expire.Expire(ctx, idKey, identity.Window)
		queued = true
	}
	if orgIncr.Val() == 1 {
		expire.Expire(ctx, orgKey, origin.Window)
		queued = true
	}
	if queued {
		if _, err := expire.Exec(ctx); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "rate window expire failed")
		}
	}

	return &models.Decision{Allowed: true}, nil
}

// DeleteExpired is a no-op; it exists for interface compatibility. Redis
// reaps window counters itself through the TTLs set on the first hit.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// counterValue reads a pipelined counter, treating a missing key as zero.
func counterValue(cmd *redis.StringCmd) int64 {
	n, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return n
}

// remaining converts a pipelined PTTL result into the wait hint, falling
// back to the full window when the key carries no TTL.
func remaining(cmd *redis.DurationCmd, window time.Duration) time.Duration {
	if d := cmd.Val(); d > 0 {
		return d
	}
	return window
}

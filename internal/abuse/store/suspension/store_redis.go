package suspension

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"usher/internal/abuse/models"
	"usher/pkg/apperr"
	"usher/pkg/requesttime"
)

const suspensionKeyPrefix = "suspension:"

// watchAttempts bounds optimistic-lock retries when concurrent failures
// race on the same identity.
const watchAttempts = 3

// RedisStore persists suspension records in Redis. Suspended records carry
// a TTL equal to the remaining lockout, so an elapsed lockout reads as no
// record at all; counting records expire after the retention horizon.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed suspension store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(identity string) string {
	return suspensionKeyPrefix + identity
}

// Get returns the record for an identity, or nil when none exists.
func (s *RedisStore) Get(ctx context.Context, identity string) (*models.SuspensionRecord, error) {
	data, err := s.client.Get(ctx, s.key(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "suspension read failed")
	}

	var rec models.SuspensionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "corrupt suspension record")
	}
	return &rec, nil
}

// RecordFailure applies one failed attempt under an optimistic lock so
// concurrent failures for the same identity never lose an increment.
func (s *RedisStore) RecordFailure(ctx context.Context, identity string, threshold int, lockout time.Duration) (*models.SuspensionRecord, error) {
	key := s.key(identity)
	now := requesttime.Now(ctx)

	var result *models.SuspensionRecord
	apply := func(tx *redis.Tx) error {
		var prev *models.SuspensionRecord
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var rec models.SuspensionRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "corrupt suspension record")
			}
			prev = &rec
		}

		if prev != nil && prev.IsSuspended(now) {
			result = prev
			return nil
		}

		next := models.NextFailure(prev, identity, now, threshold, lockout)
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		ttl := counterRetention
		if next.SuspendedUntil != nil {
			ttl = next.SuspendedUntil.Sub(now)
			if ttl <= 0 {
				ttl = time.Second
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	var err error
	for attempt := 0; attempt < watchAttempts; attempt++ {
		err = s.client.Watch(ctx, apply, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "suspension update failed")
	}
	return result, nil
}

// Delete removes the record for an identity. Missing records are a no-op.
func (s *RedisStore) Delete(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, s.key(identity)).Err(); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreUnavailable, "suspension delete failed")
	}
	return nil
}

// DeleteExpired exists for interface compatibility; Redis reaps suspension
// records itself through the TTLs set on write.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

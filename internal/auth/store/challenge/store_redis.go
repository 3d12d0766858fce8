package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"usher/internal/auth/models"
	"usher/pkg/apperr"
	"usher/pkg/requesttime"
	"usher/pkg/secrets"
)

const challengeKeyPrefix = "challenge:"

// RedisStore persists challenges with a native Redis TTL so an abandoned
// challenge disappears without any reaper. The record still carries its own
// ExpiresAt: request-scoped time may run ahead of the Redis clock, and the
// lazy check keeps expiry decisions consistent with the rest of the request.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed challenge store.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func challengeKey(identity string) string {
	return challengeKeyPrefix + identity
}

// Issue hashes the code and writes the challenge under the identity key with
// the configured TTL. A prior challenge for the identity is overwritten.
func (s *RedisStore) Issue(ctx context.Context, identity, code string) error {
	hash, err := secrets.Hash(code)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "challenge code could not be hashed")
	}

	now := requesttime.Now(ctx)
	ch := models.Challenge{
		Identity:  identity,
		CodeHash:  hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	payload, err := json.Marshal(ch)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "challenge could not be encoded")
	}

	if err := s.client.Set(ctx, challengeKey(identity), payload, s.ttl).Err(); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreUnavailable, "challenge write failed")
	}
	return nil
}

// Validate checks the presented code against the stored hash.
func (s *RedisStore) Validate(ctx context.Context, identity, code string) error {
	raw, err := s.client.Get(ctx, challengeKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreUnavailable, "challenge read failed")
	}

	var ch models.Challenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "corrupt challenge record")
	}

	if ch.Expired(requesttime.Now(ctx)) {
		// Redis would reap the key on its own shortly; deleting here keeps
		// the first-read-expired, later-reads-not-found behavior exact.
		if err := s.client.Del(ctx, challengeKey(identity)).Err(); err != nil {
			return apperr.Wrap(err, apperr.CodeStoreUnavailable, "challenge delete failed")
		}
		return apperr.New(apperr.CodeExpired, "challenge expired")
	}

	if err := secrets.Verify(code, ch.CodeHash); err != nil {
		if apperr.HasCode(err, apperr.CodeMismatch) {
			return apperr.New(apperr.CodeMismatch, "code does not match")
		}
		return err
	}
	return nil
}

// Invalidate removes the identity's challenge. Removing a missing challenge
// is not an error.
func (s *RedisStore) Invalidate(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, challengeKey(identity)).Err(); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreUnavailable, "challenge delete failed")
	}
	return nil
}

// DeleteExpired exists for interface compatibility; Redis reaps challenge
// keys itself through the TTLs set on write.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

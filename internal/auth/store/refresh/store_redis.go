package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"usher/internal/auth/models"
	"usher/pkg/apperr"
	"usher/pkg/requesttime"
)

const (
	refreshKeyPrefix = "refresh:"
	identityIndexKey = "refresh:identity:"
)

// RedisStore persists refresh tokens as value keys plus a per-identity index
// set. Token keys carry the record TTL so Redis reaps abandoned sessions on
// its own; the index set is repaired lazily when dangling members surface.
type RedisStore struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed refresh token store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func tokenKey(token string) string {
	return refreshKeyPrefix + token
}

func indexKey(identity string) string {
	return identityIndexKey + identity
}

// Issue writes the record and registers the token in the identity's index.
// All tokens share one configured TTL, so the freshest Issue always owns the
// longest deadline and may extend the index expiry to match.
func (s *RedisStore) Issue(ctx context.Context, rec *models.RefreshTokenRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "refresh record could not be encoded")
	}

	ttl := rec.ExpiresAt.Sub(requesttime.Now(ctx))
	if ttl <= 0 {
		ttl = time.Second
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(rec.Token), payload, ttl)
		pipe.SAdd(ctx, indexKey(rec.Identity), rec.Token)
		pipe.Expire(ctx, indexKey(rec.Identity), ttl)
		return nil
	})
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh write failed")
	}
	return nil
}

// Validate resolves a token to its record. A record past its TTL by
// request-scoped time is reaped and reported expired even if Redis has not
// collected the key yet.
func (s *RedisStore) Validate(ctx context.Context, token string) (*models.RefreshTokenRecord, error) {
	raw, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh read failed")
	}

	var rec models.RefreshTokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "corrupt refresh record")
	}

	if rec.Expired(requesttime.Now(ctx)) {
		if err := s.remove(ctx, &rec); err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.CodeExpired, "refresh token expired")
	}
	return &rec, nil
}

// Invalidate removes a single token and reports whether anything was removed.
func (s *RedisStore) Invalidate(ctx context.Context, token string) (bool, error) {
	raw, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh read failed")
	}

	var rec models.RefreshTokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "corrupt refresh record")
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, tokenKey(token))
		pipe.SRem(ctx, indexKey(rec.Identity), token)
		return nil
	})
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh delete failed")
	}
	return del.Val() > 0, nil
}

// InvalidateAll removes every token bound to the identity and reports how
// many live records were removed. Dangling index members whose token key
// already expired do not count.
func (s *RedisStore) InvalidateAll(ctx context.Context, identity string) (int, error) {
	tokens, err := s.client.SMembers(ctx, indexKey(identity)).Result()
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh index read failed")
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		keys = append(keys, tokenKey(token))
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.Del(ctx, indexKey(identity))
		return nil
	})
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh delete failed")
	}
	return int(del.Val()), nil
}

// ListByIdentity returns the identity's live records, newest first. Dangling
// index members and records past their TTL are cleaned up along the way.
func (s *RedisStore) ListByIdentity(ctx context.Context, identity string) ([]*models.RefreshTokenRecord, error) {
	tokens, err := s.client.SMembers(ctx, indexKey(identity)).Result()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh index read failed")
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		keys = append(keys, tokenKey(token))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh read failed")
	}

	now := requesttime.Now(ctx)
	var records []*models.RefreshTokenRecord
	var stale []string

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Token key already reaped by its TTL; drop the index member.
			stale = append(stale, tokens[i])
			continue
		}

		var rec models.RefreshTokenRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "corrupt refresh record")
		}
		if rec.Expired(now) {
			stale = append(stale, tokens[i])
			continue
		}
		records = append(records, &rec)
	}

	if len(stale) > 0 {
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, token := range stale {
				pipe.Del(ctx, tokenKey(token))
			}
			members := make([]interface{}, len(stale))
			for i, token := range stale {
				members[i] = token
			}
			pipe.SRem(ctx, indexKey(identity), members...)
			return nil
		})
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh index repair failed")
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].IssuedAt.After(records[j].IssuedAt)
	})
	return records, nil
}

// DeleteExpired exists for interface compatibility; Redis reaps refresh
// token keys itself through the TTLs set on write.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) remove(ctx context.Context, rec *models.RefreshTokenRecord) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tokenKey(rec.Token))
		pipe.SRem(ctx, indexKey(rec.Identity), rec.Token)
		return nil
	})
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreUnavailable, "refresh delete failed")
	}
	return nil
}

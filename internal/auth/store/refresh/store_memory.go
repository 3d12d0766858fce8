// Package refresh stores opaque refresh tokens and the identity each one is
// bound to. The token value is the only key; a record that disappears takes
// the session with it.
package refresh

import (
	"context"
	"sort"
	"sync"
	"time"

	"usher/internal/auth/models"
	"usher/pkg/apperr"
	"usher/pkg/requesttime"
)

// ErrNotFound is returned when a requested record is not found in the store.
// Services should check for this error using errors.Is(err, refresh.ErrNotFound).
var ErrNotFound = apperr.New(apperr.CodeNotFound, "refresh token not found")

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the requested token does not exist
// - Return a CodeExpired error exactly once for a token read past its TTL;
//   the record is deleted on that read and later reads report ErrNotFound
// - Return nil for successful operations
// - Wrap infrastructure failures as CodeStoreUnavailable, never as "not found"
type InMemoryStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshTokenRecord
}

// NewInMemoryStore creates a memory-backed refresh token store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[string]*models.RefreshTokenRecord)}
}

// Issue persists the record under its token value.
func (s *InMemoryStore) Issue(_ context.Context, rec *models.RefreshTokenRecord) error {
	cp := *rec
	s.mu.Lock()
	s.tokens[rec.Token] = &cp
	s.mu.Unlock()
	return nil
}

// Validate resolves a token to its record. Expired records are reaped on
// first read.
func (s *InMemoryStore) Validate(ctx context.Context, token string) (*models.RefreshTokenRecord, error) {
	now := requesttime.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Expired(now) {
		delete(s.tokens, token)
		return nil, apperr.New(apperr.CodeExpired, "refresh token expired")
	}

	cp := *rec
	return &cp, nil
}

// Invalidate removes a single token and reports whether anything was removed.
func (s *InMemoryStore) Invalidate(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; !ok {
		return false, nil
	}
	delete(s.tokens, token)
	return true, nil
}

// InvalidateAll removes every token bound to the identity and reports how
// many were removed.
func (s *InMemoryStore) InvalidateAll(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, rec := range s.tokens {
		if rec.Identity == identity {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed, nil
}

// ListByIdentity returns the identity's live records, newest first. Expired
// records encountered during the scan are reaped rather than listed.
func (s *InMemoryStore) ListByIdentity(ctx context.Context, identity string) ([]*models.RefreshTokenRecord, error) {
	now := requesttime.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*models.RefreshTokenRecord
	for token, rec := range s.tokens {
		if rec.Identity != identity {
			continue
		}
		if rec.Expired(now) {
			delete(s.tokens, token)
			continue
		}
		cp := *rec
		records = append(records, &cp)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].IssuedAt.After(records[j].IssuedAt)
	})
	return records, nil
}

// DeleteExpired removes records past their TTL and reports how many were
// reaped. The cleanup worker calls this to bound memory.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, rec := range s.tokens {
		if rec.Expired(now) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed, nil
}

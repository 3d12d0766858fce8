// Package challenge stores pending one-time code challenges keyed by
// normalized identity. Codes are bcrypt-hashed before they reach the store;
// expiry is enforced lazily on read so correctness never depends on a
// background reaper.
package challenge

import (
	"context"
	"sync"
	"time"

	"usher/internal/auth/models"
	"usher/pkg/apperr"
	"usher/pkg/requesttime"
	"usher/pkg/secrets"
)

// ErrNotFound is returned when no challenge exists for the identity.
// Services should check for this error using errors.Is(err, challenge.ErrNotFound).
var ErrNotFound = apperr.New(apperr.CodeNotFound, "challenge not found")

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when no challenge exists (or it was already reaped)
// - Return a CodeExpired error exactly once for a challenge read past its TTL;
//   the record is deleted on that read and later reads report ErrNotFound
// - Return a CodeMismatch error when the presented code fails the hash check
// - Return nil for successful operations
// - Wrap infrastructure failures as CodeStoreUnavailable, never as "not found"
type InMemoryStore struct {
	mu         sync.Mutex
	challenges map[string]*models.Challenge
	ttl        time.Duration
}

// NewInMemoryStore creates a memory-backed challenge store. Challenges live
// for the given TTL from their issue time.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		challenges: make(map[string]*models.Challenge),
		ttl:        ttl,
	}
}

// Issue hashes the code and stores it against the identity, replacing any
// prior challenge. Re-requesting a code therefore invalidates the old one.
func (s *InMemoryStore) Issue(ctx context.Context, identity, code string) error {
	hash, err := secrets.Hash(code)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "challenge code could not be hashed")
	}

	now := requesttime.Now(ctx)
	ch := &models.Challenge{
		Identity:  identity,
		CodeHash:  hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.challenges[identity] = ch
	s.mu.Unlock()
	return nil
}

// Validate checks the presented code against the stored hash. It does not
// consume the challenge; callers invalidate explicitly after a full redeem.
func (s *InMemoryStore) Validate(ctx context.Context, identity, code string) error {
	now := requesttime.Now(ctx)

	s.mu.Lock()
	ch, ok := s.challenges[identity]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if ch.Expired(now) {
		// Lazy reap: the first read past the TTL reports expiry, every
		// read after that sees no record at all.
		delete(s.challenges, identity)
		s.mu.Unlock()
		return apperr.New(apperr.CodeExpired, "challenge expired")
	}
	hash := ch.CodeHash
	s.mu.Unlock()

	// bcrypt comparison runs outside the lock; it is slow on purpose and
	// must not serialize unrelated identities.
	if err := secrets.Verify(code, hash); err != nil {
		if apperr.HasCode(err, apperr.CodeMismatch) {
			return apperr.New(apperr.CodeMismatch, "code does not match")
		}
		return err
	}
	return nil
}

// Invalidate removes the identity's challenge. Removing a missing challenge
// is not an error.
func (s *InMemoryStore) Invalidate(_ context.Context, identity string) error {
	s.mu.Lock()
	delete(s.challenges, identity)
	s.mu.Unlock()
	return nil
}

// DeleteExpired removes challenges past their TTL and reports how many were
// reaped. The cleanup worker calls this to bound memory; reads never depend
// on it.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for identity, ch := range s.challenges {
		if ch.Expired(now) {
			delete(s.challenges, identity)
			removed++
		}
	}
	return removed, nil
}

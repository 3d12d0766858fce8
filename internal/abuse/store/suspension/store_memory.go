// Package suspension provides the failure-count stores behind the
// suspension tracker. The failure transition itself lives in
// models.NextFailure so both variants apply identical rules.
package suspension

import (
	"context"
	"sync"
	"time"

	"usher/internal/abuse/models"
	"usher/pkg/requesttime"
)

// counterRetention bounds how long a below-threshold failure series is
// kept. A series idle longer than this no longer counts toward suspension.
const counterRetention = 24 * time.Hour

// InMemoryStore keeps suspension records in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.SuspensionRecord
}

// NewInMemory creates an empty in-memory suspension store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*models.SuspensionRecord),
	}
}

// Get returns the record for an identity, or nil when none exists.
func (s *InMemoryStore) Get(_ context.Context, identity string) (*models.SuspensionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[identity]; ok {
		return rec, nil
	}
	return nil, nil
}

// RecordFailure applies one failed attempt under the store lock, so
// concurrent failures for the same identity never lose an increment.
func (s *InMemoryStore) RecordFailure(ctx context.Context, identity string, threshold int, lockout time.Duration) (*models.SuspensionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := models.NextFailure(s.records[identity], identity, requesttime.Now(ctx), threshold, lockout)
	s.records[identity] = next
	return next, nil
}

// Delete removes the record for an identity. Missing records are a no-op.
func (s *InMemoryStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, identity)
	return nil
}

// DeleteExpired reaps records whose lockout has elapsed and failure series
// idle past the retention horizon. Returns the number removed.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for identity, rec := range s.records {
		stale := false
		if rec.SuspendedUntil != nil {
			stale = !rec.IsSuspended(now)
		} else {
			stale = rec.LastFailureAt.Before(now.Add(-counterRetention))
		}
		if stale {
			delete(s.records, identity)
			removed++
		}
	}
	return removed, nil
}

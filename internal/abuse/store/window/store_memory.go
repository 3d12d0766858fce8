// Package window provides the rate window stores behind the limiter. The
// in-memory variant keeps rolling windows per key; the Redis variant keeps
// fixed windows so multiple processes share one budget.
package window

import (
	"context"
	"sync"
	"time"

	"usher/internal/abuse/models"
	"usher/pkg/requesttime"
)

// InMemoryStore tracks rolling rate windows in process memory. Both
// counters of a pair are checked and consumed under one lock, so a denied
// request consumes nothing from either.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*rollingWindow
}

// rollingWindow holds the timestamps of counted events, oldest first.
type rollingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

// blocked reports whether the counter is at its limit, and when it next
// frees a slot.
func (w *rollingWindow) blocked(limit int, now time.Time) (bool, time.Time) {
	w.prune(now)
	if limit <= 0 {
		return true, now.Add(w.window)
	}
	if len(w.timestamps) < limit {
		return false, time.Time{}
	}
	idx := len(w.timestamps) - limit
	return true, w.timestamps[idx].Add(w.window)
}

func (w *rollingWindow) record(now time.Time) {
	w.timestamps = append(w.timestamps, now)
}

func (w *rollingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}

// NewInMemoryStore creates an empty in-memory window store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		windows: make(map[string]*rollingWindow),
	}
}

// AllowPair checks both counters and, only when both are below their
// limits, consumes one slot from each.
func (s *InMemoryStore) AllowPair(ctx context.Context, identity, origin models.Counter) (*models.Decision, error) {
	now := requesttime.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	idWin := s.window(identity)
	orgWin := s.window(origin)

	idBlocked, idReset := idWin.blocked(identity.Max, now)
	orgBlocked, orgReset := orgWin.blocked(origin.Max, now)

	if idBlocked || orgBlocked {
		return &models.Decision{
			RetryAfter:      nearestReset(now, idBlocked, idReset, orgBlocked, orgReset),
			IdentityBlocked: idBlocked,
			OriginBlocked:   orgBlocked,
		}, nil
	}

	idWin.record(now)
	orgWin.record(now)
	return &models.Decision{Allowed: true}, nil
}

func (s *InMemoryStore) window(c models.Counter) *rollingWindow {
	w, ok := s.windows[c.Key]
	if !ok {
		w = &rollingWindow{window: c.Window}
		s.windows[c.Key] = w
	}
	return w
}

// DeleteExpired drops windows with no events left inside their span, so
// idle keys do not accumulate. Returns the number of windows removed.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		w.prune(now)
		if len(w.timestamps) == 0 {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}

// nearestReset picks the soonest reset among the counters that blocked.
func nearestReset(now time.Time, idBlocked bool, idReset time.Time, orgBlocked bool, orgReset time.Time) time.Duration {
	var at time.Time
	if idBlocked {
		at = idReset
	}
	if orgBlocked && (at.IsZero() || orgReset.Before(at)) {
		at = orgReset
	}
	d := at.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

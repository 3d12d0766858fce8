// Package cleanup periodically reaps expired auth state from the stores.
// The in-memory stores need the sweep to bound growth; the Redis stores
// expire keys themselves and report zero deletions here.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"usher/pkg/requesttime"
)

// ChallengeStore exposes cleanup for expired one-time code challenges.
type ChallengeStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// RefreshTokenStore exposes cleanup for expired refresh tokens.
type RefreshTokenStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SuspensionStore exposes cleanup for elapsed lockouts and stale failure
// counters.
type SuspensionStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// WindowStore exposes cleanup for idle rate-limit windows.
type WindowStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Metrics records how many refresh tokens the sweep removed.
type Metrics interface {
	IncrementRefreshReaped(count int)
}

// CleanupResult summarizes the deletions performed by a cleanup run.
type CleanupResult struct {
	DeletedChallenges    int
	DeletedRefreshTokens int
	DeletedSuspensions   int
	DeletedWindows       int
}

// Total returns the number of records removed across all stores.
func (r CleanupResult) Total() int {
	return r.DeletedChallenges + r.DeletedRefreshTokens + r.DeletedSuspensions + r.DeletedWindows
}

// CleanupService periodically removes expired auth artifacts.
type CleanupService struct {
	challenges    ChallengeStore
	refreshTokens RefreshTokenStore
	suspensions   SuspensionStore
	windows       WindowStore
	interval      time.Duration
	logger        *slog.Logger
	metrics       Metrics
}

// CleanupOption configures CleanupService.
type CleanupOption func(*CleanupService)

// WithCleanupInterval overrides the cleanup interval when greater than zero.
func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(s *CleanupService) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithCleanupLogger overrides the logger used for cleanup errors.
func WithCleanupLogger(logger *slog.Logger) CleanupOption {
	return func(s *CleanupService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCleanupMetrics wires the reap counter.
func WithCleanupMetrics(m Metrics) CleanupOption {
	return func(s *CleanupService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New constructs a CleanupService with required stores and options applied.
func New(
	challenges ChallengeStore,
	refreshTokens RefreshTokenStore,
	suspensions SuspensionStore,
	windows WindowStore,
	opts ...CleanupOption,
) (*CleanupService, error) {
	if challenges == nil || refreshTokens == nil || suspensions == nil || windows == nil {
		return nil, fmt.Errorf("challenges, refreshTokens, suspensions, and windows stores are required")
	}
	svc := &CleanupService{
		challenges:    challenges,
		refreshTokens: refreshTokens,
		suspensions:   suspensions,
		windows:       windows,
		interval:      5 * time.Minute,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start runs cleanup periodically until ctx is cancelled.
func (s *CleanupService) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "session cleanup failed", "error", err)
				continue
			}
			if res.Total() > 0 {
				s.logger.DebugContext(ctx, "session cleanup pass finished",
					"challenges", res.DeletedChallenges,
					"refresh_tokens", res.DeletedRefreshTokens,
					"suspensions", res.DeletedSuspensions,
					"windows", res.DeletedWindows,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single cleanup pass over all four stores.
// It returns a CleanupResult summarizing the deletions performed.
// If any store fails, the remaining sweeps still run and the errors are
// aggregated and returned.
func (s *CleanupService) RunOnce(ctx context.Context) (CleanupResult, error) {
	now := requesttime.Now(ctx)
	var res CleanupResult
	var errs []error

	deletedChallenges, err := s.challenges.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired challenges: %w", err))
	} else {
		res.DeletedChallenges = deletedChallenges
	}

	deletedRefresh, err := s.refreshTokens.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired refresh tokens: %w", err))
	} else {
		res.DeletedRefreshTokens = deletedRefresh
		if s.metrics != nil && deletedRefresh > 0 {
			s.metrics.IncrementRefreshReaped(deletedRefresh)
		}
	}

	deletedSuspensions, err := s.suspensions.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired suspensions: %w", err))
	} else {
		res.DeletedSuspensions = deletedSuspensions
	}

	deletedWindows, err := s.windows.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete idle rate windows: %w", err))
	} else {
		res.DeletedWindows = deletedWindows
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}

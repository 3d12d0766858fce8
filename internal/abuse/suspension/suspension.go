// Package suspension tracks consecutive failed verification attempts and
// locks an identity out once the threshold is reached. The lockout
// timestamp is authoritative: while it is in the future the identity stays
// suspended no matter what the counter says.
package suspension

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"usher/internal/abuse/models"
	"usher/internal/platform/config"
	"usher/pkg/apperr"
	"usher/pkg/requesttime"
)

// Store persists suspension records. RecordFailure applies the whole
// failure transition atomically for its backend.
type Store interface {
	Get(ctx context.Context, identity string) (*models.SuspensionRecord, error)
	RecordFailure(ctx context.Context, identity string, threshold int, lockout time.Duration) (*models.SuspensionRecord, error)
	Delete(ctx context.Context, identity string) error
}

// Metrics counts lockouts as they trigger.
type Metrics interface {
	IncrementSuspensions()
}

// Service is the suspension tracker.
type Service struct {
	store   Store
	cfg     config.Suspension
	logger  *slog.Logger
	metrics Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// New creates a suspension tracker over the given store.
func New(store Store, cfg config.Suspension, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("suspension store is required")
	}

	svc := &Service{
		store: store,
		cfg:   cfg,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IsSuspended reports the current suspension state for an identity.
func (s *Service) IsSuspended(ctx context.Context, identity string) (*models.Status, error) {
	rec, err := s.store.Get(ctx, identity)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "suspension lookup failed")
	}

	now := requesttime.Now(ctx)
	if rec != nil && rec.IsSuspended(now) {
		return &models.Status{Suspended: true, Until: *rec.SuspendedUntil, Attempts: rec.Failures}, nil
	}

	st := &models.Status{}
	// An elapsed lockout reads as a clean slate; only a live counting
	// series reports its attempts.
	if rec != nil && rec.SuspendedUntil == nil {
		st.Attempts = rec.Failures
	}
	return st, nil
}

// RecordFailure counts one failed attempt and reports the resulting state.
// The attempt that reaches the threshold reports the fresh suspension;
// attempts during an active lockout report it unchanged.
func (s *Service) RecordFailure(ctx context.Context, identity string) (*models.Status, error) {
	rec, err := s.store.RecordFailure(ctx, identity, s.cfg.Threshold, s.cfg.Lockout)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "failure recording failed")
	}

	now := requesttime.Now(ctx)
	st := &models.Status{Attempts: rec.Failures}
	if rec.IsSuspended(now) {
		st.Suspended = true
		st.Until = *rec.SuspendedUntil

		if s.metrics != nil {
			s.metrics.IncrementSuspensions()
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "identity suspended",
				"attempts", rec.Failures,
				"until", rec.SuspendedUntil,
			)
		}
	}
	return st, nil
}

// Reset clears the failure series and any lockout for the identity. Called
// on successful redemption.
func (s *Service) Reset(ctx context.Context, identity string) error {
	if err := s.store.Delete(ctx, identity); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreUnavailable, "suspension reset failed")
	}
	return nil
}

// RemainingLockout converts a status into the wait hint for error
// responses, never negative.
func RemainingLockout(st *models.Status, now time.Time) time.Duration {
	if !st.Suspended {
		return 0
	}
	d := st.Until.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

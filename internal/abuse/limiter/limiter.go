// Package limiter bounds how often a challenge may be requested, keyed by
// identity and by origin. It always runs; only its thresholds differ by
// environment, applied upstream through configuration defaults.
package limiter

import (
	"context"
	"fmt"
	"log/slog"

	"usher/internal/abuse/models"
	"usher/internal/platform/config"
	"usher/pkg/apperr"
)

// Store checks and consumes both rate counters as one unit.
type Store interface {
	AllowPair(ctx context.Context, identity, origin models.Counter) (*models.Decision, error)
}

// Metrics records rejected checks per scope.
type Metrics interface {
	RecordRateLimitRejection(scope string)
}

// Service is the challenge-request rate limiter.
type Service struct {
	store   Store
	cfg     config.Rate
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

// New creates a rate limiter over the given window store.
func New(store Store, cfg config.Rate, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required")
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

// CheckAndConsume admits the request only when both the identity and the
// origin counter are below their thresholds, consuming one slot from each;
// a denied request consumes nothing. The decision's RetryAfter is the
// soonest reset among the counters that blocked.
func (s *Service) CheckAndConsume(ctx context.Context, identity, origin string) (*models.Decision, error) {
	dec, err := s.store.AllowPair(ctx,
		models.Counter{
			Key:    models.ScopeIdentity + ":" + identity,
			Max:    s.cfg.Identity.MaxPerWindow,
			Window: s.cfg.Identity.Window,
		},
		models.Counter{
			Key:    models.ScopeOrigin + ":" + origin,
			Max:    s.cfg.Origin.MaxPerWindow,
			Window: s.cfg.Origin.Window,
		},
	)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "rate limit check failed")
	}

	if !dec.Allowed {
		if dec.IdentityBlocked {
			s.recordRejection(models.ScopeIdentity)
		}
		if dec.OriginBlocked {
			s.recordRejection(models.ScopeOrigin)
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "challenge request rate limited",
				"identity_blocked", dec.IdentityBlocked,
				"origin_blocked", dec.OriginBlocked,
				"retry_after", dec.RetryAfter,
			)
		}
	}

	return dec, nil
}

func (s *Service) recordRejection(scope string) {
	if s.metrics != nil {
		s.metrics.RecordRateLimitRejection(scope)
	}
}

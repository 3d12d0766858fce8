// Package service implements the passwordless session flows: request a
// one-time code, redeem it for tokens, refresh, and log out. It owns the
// ordering of abuse checks and store mutations; the stores own atomicity.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	abuse "usher/internal/abuse/models"
	"usher/internal/audit"
	"usher/internal/auth/models"
	"usher/internal/platform/environment"
	"usher/internal/platform/middleware"
	"usher/internal/platform/privacy"
	"usher/internal/platform/tracing"
	"usher/internal/token"
	"usher/pkg/apperr"
)

// ChallengeStore persists pending one-time code challenges.
type ChallengeStore interface {
	Issue(ctx context.Context, identity, code string) error
	Validate(ctx context.Context, identity, code string) error
	Invalidate(ctx context.Context, identity string) error
}

// RefreshTokenStore persists opaque refresh tokens.
type RefreshTokenStore interface {
	Issue(ctx context.Context, rec *models.RefreshTokenRecord) error
	Validate(ctx context.Context, refreshToken string) (*models.RefreshTokenRecord, error)
	Invalidate(ctx context.Context, refreshToken string) (bool, error)
	InvalidateAll(ctx context.Context, identity string) (int, error)
	ListByIdentity(ctx context.Context, identity string) ([]*models.RefreshTokenRecord, error)
}

// RateLimiter throttles challenge requests per identity and per origin.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, identity, origin string) (*abuse.Decision, error)
}

// SuspensionTracker locks identities out after repeated failed redeems.
type SuspensionTracker interface {
	IsSuspended(ctx context.Context, identity string) (*abuse.Status, error)
	RecordFailure(ctx context.Context, identity string) (*abuse.Status, error)
	Reset(ctx context.Context, identity string) error
}

// TokenIssuer mints and verifies access tokens.
type TokenIssuer interface {
	Mint(ctx context.Context, identity string) (string, error)
	Verify(ctx context.Context, raw string) (*token.Claims, error)
	TTL() time.Duration
}

// CodeSender delivers a one-time code to the identity out of band.
type CodeSender interface {
	SendCode(ctx context.Context, to, code string) error
}

// AuditPublisher records security-relevant events. Emit must never block or
// fail the calling flow.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Metrics records operational counters for the session flows.
type Metrics interface {
	IncrementChallengesIssued()
	IncrementDeliveryFailures()
	RecordRedeemOutcome(outcome string)
	IncrementTokensMinted()
	IncrementTokensRefreshed()
	IncrementRefreshRevoked(count int)
}

// Config carries the tunables the session service needs.
type Config struct {
	// OTPDigits is the width of generated one-time codes.
	OTPDigits int
	// BypassCode short-circuits redemption outside production. Empty
	// disables the bypass everywhere.
	BypassCode string
	// EmailTimeout bounds a single code delivery attempt. Zero means no
	// deadline beyond the request's own.
	EmailTimeout time.Duration
	// RefreshTTL is the lifetime of issued refresh tokens.
	RefreshTTL time.Duration
}

// Service orchestrates the passwordless authentication flows.
type Service struct {
	challenges  ChallengeStore
	refresh     RefreshTokenStore
	limiter     RateLimiter
	suspensions SuspensionTracker
	tokens      TokenIssuer
	sender      CodeSender
	cfg         Config
	env         environment.Source

	logger         *slog.Logger
	metrics        Metrics
	auditPublisher AuditPublisher
	tracer         tracing.Tracer
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditPublisher sets the audit event sink.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

// WithTracer sets the tracer for the session flows.
func WithTracer(t tracing.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New creates the session service. All store and capability arguments are
// required; observability collaborators come in through options.
func New(
	challenges ChallengeStore,
	refresh RefreshTokenStore,
	limiter RateLimiter,
	suspensions SuspensionTracker,
	tokens TokenIssuer,
	sender CodeSender,
	cfg Config,
	env environment.Source,
	opts ...Option,
) (*Service, error) {
	switch {
	case challenges == nil:
		return nil, fmt.Errorf("challenge store is required")
	case refresh == nil:
		return nil, fmt.Errorf("refresh token store is required")
	case limiter == nil:
		return nil, fmt.Errorf("rate limiter is required")
	case suspensions == nil:
		return nil, fmt.Errorf("suspension tracker is required")
	case tokens == nil:
		return nil, fmt.Errorf("token issuer is required")
	case sender == nil:
		return nil, fmt.Errorf("code sender is required")
	case env == nil:
		return nil, fmt.Errorf("environment source is required")
	}

	if cfg.OTPDigits <= 0 {
		cfg.OTPDigits = 6
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}

	s := &Service{
		challenges:  challenges,
		refresh:     refresh,
		limiter:     limiter,
		suspensions: suspensions,
		tokens:      tokens,
		sender:      sender,
		cfg:         cfg,
		env:         env,
		logger:      slog.Default(),
		tracer:      tracing.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// logAudit emits a fire-and-forget audit event with the request id attached.
// The origin is anonymized on the way in; the trail outlives sessions and
// never needs the full address.
func (s *Service) logAudit(ctx context.Context, action audit.AuditEvent, identity, origin, outcome, reason string) {
	if s.auditPublisher == nil {
		return
	}
	s.auditPublisher.Emit(ctx, audit.Event{
		Identity:  identity,
		Action:    string(action),
		Origin:    privacy.AnonymizeIP(origin),
		Outcome:   outcome,
		Reason:    reason,
		RequestID: middleware.GetRequestID(ctx),
	})
}

// logFailure logs expected domain failures at warn and infrastructure or
// operator failures at error.
func (s *Service) logFailure(ctx context.Context, msg string, err error, args ...any) {
	args = append(args, "error", err, "request_id", middleware.GetRequestID(ctx))
	switch apperr.CodeOf(err) {
	case apperr.CodeInternal, apperr.CodeStoreUnavailable, apperr.CodeConfiguration:
		s.logger.ErrorContext(ctx, msg, args...)
	default:
		s.logger.WarnContext(ctx, msg, args...)
	}
}

func (s *Service) incrementChallengesIssued() {
	if s.metrics != nil {
		s.metrics.IncrementChallengesIssued()
	}
}

func (s *Service) incrementDeliveryFailures() {
	if s.metrics != nil {
		s.metrics.IncrementDeliveryFailures()
	}
}

func (s *Service) recordRedeemOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordRedeemOutcome(outcome)
	}
}

func (s *Service) incrementTokensMinted() {
	if s.metrics != nil {
		s.metrics.IncrementTokensMinted()
	}
}

func (s *Service) incrementTokensRefreshed() {
	if s.metrics != nil {
		s.metrics.IncrementTokensRefreshed()
	}
}

func (s *Service) incrementRefreshRevoked(count int) {
	if s.metrics != nil && count > 0 {
		s.metrics.IncrementRefreshRevoked(count)
	}
}

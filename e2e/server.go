package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"usher/internal/abuse/limiter"
	suspensionstore "usher/internal/abuse/store/suspension"
	windowstore "usher/internal/abuse/store/window"
	"usher/internal/abuse/suspension"
	"usher/internal/audit"
	"usher/internal/auth/handler"
	"usher/internal/auth/service"
	"usher/internal/auth/store/challenge"
	"usher/internal/auth/store/refresh"
	"usher/internal/platform/config"
	"usher/internal/platform/environment"
	"usher/internal/platform/health"
	"usher/internal/platform/middleware"
	"usher/internal/token"
	"usher/pkg/requesttime"
)

// bypassCode is the fixed code the in-process service accepts without a live
// challenge. Scenarios use it when the delivered code itself is not the point.
const bypassCode = "000000"

// serverConfig carries the abuse tunables scenarios may pin down before the
// service boots.
type serverConfig struct {
	IdentityLimit       int
	OriginLimit         int
	RateWindow          time.Duration
	SuspensionThreshold int
	SuspensionLockout   time.Duration
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		IdentityLimit:       10,
		OriginLimit:         50,
		RateWindow:          time.Minute,
		SuspensionThreshold: 3,
		SuspensionLockout:   5 * time.Minute,
	}
}

// codeBox is the scenario's mailbox: it captures delivered codes per identity
// so steps can redeem what "arrived".
type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCodeBox() *codeBox {
	return &codeBox{codes: make(map[string]string)}
}

func (b *codeBox) SendCode(_ context.Context, to, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[to] = code
	return nil
}

func (b *codeBox) code(to string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[to]
}

// newServer assembles the real stack over in-memory stores and serves it from
// an httptest listener. Each scenario gets its own instance, so abuse state
// never bleeds between scenarios.
func newServer(cfg serverConfig) (*httptest.Server, *codeBox, error) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := environment.Static("test")

	challenges := challenge.NewInMemoryStore(10 * time.Minute)
	refreshTokens := refresh.NewInMemoryStore()
	sender := newCodeBox()

	rate, err := limiter.New(windowstore.NewInMemoryStore(), config.Rate{
		Identity: config.Limit{MaxPerWindow: cfg.IdentityLimit, Window: cfg.RateWindow},
		Origin:   config.Limit{MaxPerWindow: cfg.OriginLimit, Window: cfg.RateWindow},
	}, limiter.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("build limiter: %w", err)
	}

	suspender, err := suspension.New(suspensionstore.NewInMemory(), config.Suspension{
		Threshold: cfg.SuspensionThreshold,
		Lockout:   cfg.SuspensionLockout,
	}, suspension.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("build suspension tracker: %w", err)
	}

	issuer := token.New(config.Token{
		SigningKey: "e2e-signing-key",
		TTL:        time.Hour,
		Issuer:     "usher-e2e",
		Audience:   "usher",
	}, env)

	svc, err := service.New(
		challenges,
		refreshTokens,
		rate,
		suspender,
		issuer,
		sender,
		service.Config{
			OTPDigits:    6,
			BypassCode:   bypassCode,
			EmailTimeout: 2 * time.Second,
			RefreshTTL:   30 * 24 * time.Hour,
		},
		env,
		service.WithLogger(log),
		service.WithAuditPublisher(audit.NewPublisher(audit.NewInMemoryStore())),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build service: %w", err)
	}

	authHandler := handler.New(svc, log, env, handler.Config{
		AccessTTL:  time.Hour,
		RefreshTTL: 30 * 24 * time.Hour,
		OTPTTL:     10 * time.Minute,
	})

	verifier := middleware.VerifyFunc(func(ctx context.Context, raw string) (string, error) {
		claims, err := svc.Verify(ctx, raw)
		if err != nil {
			return "", err
		}
		return claims.Identity(), nil
	})

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(requesttime.Middleware)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.BodyLimit(1 << 16))

	health.New("test").Register(router)

	router.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		authHandler.Register(r)
	})
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(verifier, log))
		authHandler.RegisterProtected(r)
	})

	return httptest.NewServer(router), sender, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"usher/internal/abuse/limiter"
	"usher/internal/abuse/suspension"
	"usher/internal/audit"
	"usher/internal/auth/email"
	"usher/internal/auth/handler"
	"usher/internal/auth/service"
	"usher/internal/auth/workers/cleanup"
	"usher/internal/platform/config"
	"usher/internal/platform/environment"
	"usher/internal/platform/health"
	"usher/internal/platform/httpserver"
	"usher/internal/platform/logger"
	"usher/internal/platform/metrics"
	"usher/internal/platform/middleware"
	platformredis "usher/internal/platform/redis"
	"usher/internal/platform/tracing"
	"usher/internal/token"
	"usher/pkg/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	if err := run(); err != nil {
		slog.Error("usher failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := environment.Static(cfg.Environment)
	log := logger.New(env)
	slog.SetDefault(log)

	log.Info("initializing usher",
		"addr", cfg.Server.Addr,
		"environment", cfg.Environment,
	)

	m := metrics.New()

	rdb, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close() //nolint:errcheck
		log.Info("using redis-backed stores")
	} else {
		log.Info("using in-memory stores")
	}

	stores := buildStores(cfg, rdb)

	rate, err := limiter.New(stores.windows, cfg.Rate,
		limiter.WithLogger(log),
		limiter.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("build rate limiter: %w", err)
	}

	suspender, err := suspension.New(stores.suspensions, cfg.Suspension,
		suspension.WithLogger(log),
		suspension.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("build suspension tracker: %w", err)
	}

	auditPublisher := audit.NewPublisher(audit.NewSlogStore(log),
		audit.WithAsyncBuffer(cfg.Audit.Buffer),
		audit.WithPublisherLogger(log),
		audit.WithFailureCounter(m),
	)
	defer auditPublisher.Close()

	authService, err := service.New(
		stores.challenges,
		stores.refreshTokens,
		rate,
		suspender,
		token.New(cfg.Token, env),
		email.NewLogSender(log, cfg.Email.From),
		service.Config{
			OTPDigits:    cfg.OTP.Digits,
			BypassCode:   cfg.OTP.Bypass,
			EmailTimeout: cfg.Email.Timeout,
			RefreshTTL:   cfg.Refresh.TTL,
		},
		env,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(auditPublisher),
		service.WithTracer(tracing.NewOTel()),
	)
	if err != nil {
		return fmt.Errorf("build auth service: %w", err)
	}

	authHandler := handler.New(authService, log, env, handler.Config{
		AccessTTL:  cfg.Token.TTL,
		RefreshTTL: cfg.Refresh.TTL,
		OTPTTL:     cfg.OTP.TTL,
	})

	healthHandler := health.New(cfg.Environment)
	if rdb != nil {
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Health(ctx)
		})
	}

	verifier := middleware.VerifyFunc(func(ctx context.Context, raw string) (string, error) {
		claims, err := authService.Verify(ctx, raw)
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
	router.Use(middleware.Logger(log))
	router.Use(middleware.Metrics(m))
	router.Use(middleware.BodyLimit(1 << 16))
	router.Use(middleware.Timeout(30 * time.Second))

	healthHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		authHandler.Register(r)
	})
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(verifier, log))
		authHandler.RegisterProtected(r)
	})

	reaper, err := cleanup.New(
		stores.challenges,
		stores.refreshTokens,
		stores.suspensions,
		stores.windows,
		cleanup.WithCleanupInterval(cfg.Cleanup.Interval),
		cleanup.WithCleanupLogger(log),
		cleanup.WithCleanupMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("build cleanup worker: %w", err)
	}

	srv := httpserver.New(cfg.Server.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := reaper.Start(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if rdb != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					rdb.RecordPoolStats()
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}

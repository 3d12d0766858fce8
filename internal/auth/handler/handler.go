// Package handler exposes the passwordless session flows over HTTP.
//
// Routes split into a public set (challenge, verify, refresh, logout) and a
// protected set (logout-all, me, sessions) that expects the parent router to
// apply access-token middleware. Tokens travel both in JSON bodies and in
// HttpOnly cookies so browser and API clients share the same endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"usher/internal/auth/models"
	"usher/internal/platform/environment"
	"usher/internal/platform/middleware"
	"usher/pkg/apperr"
	"usher/pkg/httputil"
	s "usher/pkg/string"
	"usher/pkg/validation"
)

// RefreshTokenCookie carries the refresh token between a browser and the
// /auth endpoints. The path is scoped to /auth so the long-lived secret is
// never sent with ordinary application traffic.
const RefreshTokenCookie = "usher_refresh"

// Service defines the session operations the HTTP layer exposes.
type Service interface {
	RequestChallenge(ctx context.Context, identity, origin string) error
	Redeem(ctx context.Context, identity, code, userAgent, origin string) (*models.TokenResult, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenResult, error)
	Logout(ctx context.Context, refreshToken string) (*models.LogoutResult, error)
	LogoutAll(ctx context.Context, identity string) (*models.LogoutAllResult, error)
	Sessions(ctx context.Context, identity, currentToken string) (*models.SessionsResult, error)
}

// Config carries the lifetimes the handlers surface to clients: cookie
// Max-Age values and the expires_in field on challenge responses.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	OTPTTL     time.Duration
}

// Handler handles the passwordless authentication endpoints.
type Handler struct {
	auth   Service
	logger *slog.Logger
	env    environment.Source
	cfg    Config
}

// New creates a new auth Handler with the given service and logger.
func New(auth Service, logger *slog.Logger, env environment.Source, cfg Config) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if env == nil {
		env = environment.FromEnv(environment.EnvVar, "development")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 10 * time.Minute
	}

	return &Handler{
		auth:   auth,
		logger: logger,
		env:    env,
		cfg:    cfg,
	}
}

// Register registers the public auth routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/challenge", h.HandleChallenge)
	r.Post("/auth/verify", h.HandleVerify)
	r.Post("/auth/refresh", h.HandleRefresh)
	r.Post("/auth/logout", h.HandleLogout)
}

// RegisterProtected registers the routes that require a valid access token.
// Note: the access-token middleware should be applied by the parent router.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/auth/logout-all", h.HandleLogoutAll)
	r.Get("/auth/me", h.HandleMe)
	r.Get("/auth/sessions", h.HandleSessions)
}

// HandleChallenge implements POST /auth/challenge.
// Issues a one-time code for the given email and delivers it out of band.
//
// Input: { "email": "user@example.com" }
// Output: { "status": "sent", "expires_in": 600 }
func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode challenge request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, apperr.New(apperr.CodeInvalidInput, "Invalid JSON in request body"))
		return
	}

	s.TrimStrings(&req.Email)
	if err := validation.Validate(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid challenge request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	if err := h.auth.RequestChallenge(ctx, req.Email, middleware.GetClientIP(ctx)); err != nil {
		h.logger.ErrorContext(ctx, "challenge request failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "challenge issued",
		"request_id", requestID,
	)

	httputil.WriteJSON(w, http.StatusOK, models.ChallengeResult{
		Status:    "sent",
		ExpiresIn: int(h.cfg.OTPTTL.Seconds()),
	})
}

// HandleVerify implements POST /auth/verify.
// Exchanges an email plus one-time code for an access and refresh token pair.
// Tokens are returned in the body and mirrored into HttpOnly cookies.
//
// Input: { "email": "user@example.com", "code": "483920" }
// Output: { "access_token": "...", "refresh_token": "...", "token_type": "Bearer", "expires_in": 3600 }
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode verify request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, apperr.New(apperr.CodeInvalidInput, "Invalid JSON in request body"))
		return
	}

	s.TrimStrings(&req.Email, &req.Code)
	if err := validation.Validate(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid verify request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.auth.Redeem(ctx, req.Email, req.Code, middleware.GetUserAgent(ctx), middleware.GetClientIP(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "verify failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "verify successful",
		"request_id", requestID,
	)

	h.setSessionCookies(w, res)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleRefresh implements POST /auth/refresh.
// Mints a fresh access token against a live refresh token. The refresh token
// is read from the cookie when present, falling back to the JSON body, and is
// not rotated.
//
// Input: { "refresh_token": "..." } (optional when the cookie is set)
// Output: { "access_token": "...", "token_type": "Bearer", "expires_in": 3600 }
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.RefreshRequest
	// An empty body is fine here; browser clients send the token as a cookie.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WarnContext(ctx, "failed to decode refresh request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, apperr.New(apperr.CodeInvalidInput, "Invalid JSON in request body"))
		return
	}

	s.TrimStrings(&req.RefreshToken)
	if err := validation.Validate(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid refresh request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.auth.Refresh(ctx, h.refreshTokenFrom(r, req.RefreshToken))
	if err != nil {
		h.logger.WarnContext(ctx, "refresh failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "refresh successful",
		"request_id", requestID,
	)

	h.setSessionCookies(w, res)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleLogout implements POST /auth/logout.
// Revokes the presented refresh token and clears the session cookies. The
// response reports whether a live token was actually removed.
//
// Input: { "refresh_token": "..." } (optional when the cookie is set)
// Output: { "revoked": true }
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WarnContext(ctx, "failed to decode logout request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, apperr.New(apperr.CodeInvalidInput, "Invalid JSON in request body"))
		return
	}

	s.TrimStrings(&req.RefreshToken)
	if err := validation.Validate(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid logout request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.auth.Logout(ctx, h.refreshTokenFrom(r, req.RefreshToken))
	if err != nil {
		h.logger.WarnContext(ctx, "logout failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "logout successful",
		"request_id", requestID,
		"revoked", res.Revoked,
	)

	h.clearSessionCookies(w)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleLogoutAll implements POST /auth/logout-all.
// Revokes every refresh token held by the authenticated identity.
//
// Output: { "revoked_count": 3 }
func (h *Handler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	identity := middleware.GetIdentity(ctx)
	if identity == "" {
		h.logger.WarnContext(ctx, "missing identity in auth context",
			"request_id", requestID,
		)
		httputil.WriteError(w, apperr.New(apperr.CodeUnauthorized, "invalid token"))
		return
	}

	res, err := h.auth.LogoutAll(ctx, identity)
	if err != nil {
		h.logger.ErrorContext(ctx, "logout-all failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "logout-all successful",
		"request_id", requestID,
		"revoked_count", res.RevokedCount,
	)

	h.clearSessionCookies(w)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleMe implements GET /auth/me.
// Returns the identity bound to the presented access token.
//
// Output: { "email": "user@example.com" }
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	identity := middleware.GetIdentity(ctx)
	if identity == "" {
		h.logger.WarnContext(ctx, "missing identity in auth context",
			"request_id", requestID,
		)
		httputil.WriteError(w, apperr.New(apperr.CodeUnauthorized, "invalid token"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.MeResult{Email: identity})
}

// HandleSessions implements GET /auth/sessions.
// Lists the live refresh sessions for the authenticated identity. When the
// request carries the refresh cookie, the matching session is marked current.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	identity := middleware.GetIdentity(ctx)
	if identity == "" {
		h.logger.WarnContext(ctx, "missing identity in auth context",
			"request_id", requestID,
		)
		httputil.WriteError(w, apperr.New(apperr.CodeUnauthorized, "invalid token"))
		return
	}

	res, err := h.auth.Sessions(ctx, identity, h.refreshTokenFrom(r, ""))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list sessions",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, res)
}

// refreshTokenFrom resolves the refresh token for a request, preferring the
// cookie over the body so stale copies in scripted clients lose to the
// browser's view of the session.
func (h *Handler) refreshTokenFrom(r *http.Request, fromBody string) string {
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return fromBody
}

// setSessionCookies mirrors the minted tokens into HttpOnly cookies. The
// Secure flag follows the environment rather than the request scheme so a
// misconfigured proxy header cannot downgrade production cookies.
func (h *Handler) setSessionCookies(w http.ResponseWriter, res *models.TokenResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    res.AccessToken,
		Path:     "/",
		MaxAge:   int(h.cfg.AccessTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.env.Hardened(),
		SameSite: http.SameSiteStrictMode,
	})

	// Refresh responses mint no new refresh token, so the cookie set at
	// verify time stays untouched.
	if res.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     RefreshTokenCookie,
			Value:    res.RefreshToken,
			Path:     "/auth",
			MaxAge:   int(h.cfg.RefreshTTL.Seconds()),
			HttpOnly: true,
			Secure:   h.env.Hardened(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.env.Hardened(),
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.env.Hardened(),
		SameSite: http.SameSiteStrictMode,
	})
}

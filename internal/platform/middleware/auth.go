package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// AccessTokenCookie carries the access token for browser clients. The
// refresh token travels in its own cookie owned by the auth handler.
const AccessTokenCookie = "usher_access"

// AccessVerifier checks a presented access token and yields the identity it
// was minted for.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, raw string) (string, error)
}

// VerifyFunc adapts a plain function to AccessVerifier.
type VerifyFunc func(ctx context.Context, raw string) (string, error)

func (f VerifyFunc) VerifyAccess(ctx context.Context, raw string) (string, error) {
	return f(ctx, raw)
}

type contextKeyIdentity struct{}

// GetIdentity retrieves the authenticated identity from the context.
func GetIdentity(ctx context.Context) string {
	identity, ok := ctx.Value(contextKeyIdentity{}).(string)
	if !ok {
		return ""
	}
	return identity
}

// ExtractAccessToken pulls the access token from the request. The cookie is
// preferred when both the cookie and an Authorization header are present.
func ExtractAccessToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	const bearerPrefix = "Bearer "
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix); ok && after != "" {
		return after, true
	}
	return "", false
}

// RequireAuth rejects requests that do not carry a verifiable access token
// and stores the authenticated identity in the request context.
func RequireAuth(verifier AccessVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestID(ctx)

			raw, ok := ExtractAccessToken(r)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeUnauthorized(w, "Missing access token")
				return
			}

			identity, err := verifier.VerifyAccess(ctx, raw)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, contextKeyIdentity{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`)) //nolint:errcheck
}

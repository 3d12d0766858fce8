package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usher/pkg/apperr"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteErrorMapsDomainCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", apperr.New(apperr.CodeNotFound, "no challenge"), http.StatusNotFound, "not_found"},
		{"invalid input", apperr.New(apperr.CodeInvalidInput, "bad email"), http.StatusBadRequest, "bad_request"},
		{"mismatch", apperr.New(apperr.CodeMismatch, "wrong code"), http.StatusUnauthorized, "invalid_code"},
		{"expired", apperr.New(apperr.CodeExpired, "challenge expired"), http.StatusUnauthorized, "expired"},
		{"malformed", apperr.New(apperr.CodeMalformed, "not a token"), http.StatusUnauthorized, "unauthorized"},
		{"rate limited", apperr.New(apperr.CodeRateLimited, "slow down"), http.StatusTooManyRequests, "rate_limited"},
		{"suspended", apperr.New(apperr.CodeSuspended, "locked"), http.StatusTooManyRequests, "suspended"},
		{"delivery", apperr.New(apperr.CodeDeliveryFailed, "smtp down"), http.StatusBadGateway, "delivery_failed"},
		{"store", apperr.New(apperr.CodeStoreUnavailable, "redis down"), http.StatusServiceUnavailable, "service_unavailable"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode(t, w)["error"])
		})
	}
}

func TestWriteErrorSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, apperr.WithRetryAfter(apperr.CodeRateLimited, "too many requests", 90500*time.Millisecond))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	// Rounded up, never down.
	assert.Equal(t, "91", w.Header().Get("Retry-After"))
}

func TestWriteErrorConfigurationStaysOpaque(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, apperr.New(apperr.CodeConfiguration, "signing secret is the dev placeholder"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "internal_error", body["error"])
	assert.NotContains(t, body, "error_description")
}

package httputil

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"usher/pkg/apperr"
)

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Errors after WriteHeader cannot change the status code, so we ignore encoding errors.
	// The response body may be incomplete, but headers are already sent.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError centralizes domain error translation to HTTP responses.
// Rate-limit and suspension errors get a Retry-After header; configuration
// and internal errors stay opaque so operator mistakes never leak detail.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal_error",
		})
		return
	}

	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(appErr)))
	}

	response := map[string]string{
		"error": CodeToHTTPCode(appErr.Code),
	}
	if appErr.Message != "" && !opaque(appErr.Code) {
		response["error_description"] = appErr.Message
	}
	WriteJSON(w, CodeToHTTPStatus(appErr.Code), response)
}

// CodeToHTTPStatus translates domain error codes to HTTP status codes.
func CodeToHTTPStatus(code apperr.Code) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidInput, apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeMismatch, apperr.CodeExpired, apperr.CodeMalformed, apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeRateLimited, apperr.CodeSuspended:
		return http.StatusTooManyRequests
	case apperr.CodeDeliveryFailed:
		return http.StatusBadGateway
	case apperr.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeToHTTPCode translates domain error codes to the error strings clients see.
func CodeToHTTPCode(code apperr.Code) string {
	switch code {
	case apperr.CodeNotFound:
		return "not_found"
	case apperr.CodeInvalidInput, apperr.CodeValidation:
		return "bad_request"
	case apperr.CodeMismatch:
		return "invalid_code"
	case apperr.CodeExpired:
		return "expired"
	case apperr.CodeMalformed, apperr.CodeUnauthorized:
		return "unauthorized"
	case apperr.CodeRateLimited:
		return "rate_limited"
	case apperr.CodeSuspended:
		return "suspended"
	case apperr.CodeDeliveryFailed:
		return "delivery_failed"
	case apperr.CodeStoreUnavailable:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}

// opaque lists codes whose messages must not reach clients.
func opaque(code apperr.Code) bool {
	switch code {
	case apperr.CodeConfiguration, apperr.CodeInternal:
		return true
	}
	return false
}

// retryAfterSeconds rounds up so clients never retry before the window opens.
func retryAfterSeconds(e *apperr.Error) int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

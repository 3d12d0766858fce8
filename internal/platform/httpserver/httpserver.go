// Package httpserver builds the http.Server the service runs behind.
package httpserver

import (
	"net/http"
	"time"
)

// New wraps a handler in an http.Server with conservative timeouts. The
// write timeout sits above the per-request timeout middleware so an
// overrunning request is answered by the middleware, not cut mid-response.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// Package httptransport builds the HTTP server hosting the sync API.
package httptransport

import (
	"net/http"
	"time"
)

// ServerConfig carries the listener address and connection timeouts. Write
// timeout should comfortably cover the largest allowed push batch.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer assembles the *http.Server serving the sync endpoints; the
// caller owns ListenAndServe and Shutdown.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Package httpserver holds the listener defaults for the trustmint API.
package httpserver

import (
	"net/http"
	"time"
)

const minWriteTimeout = 30 * time.Second

// New builds the server. writeTimeout must cover the slowest handler, which
// is issuance waiting on ledger validation; shorter values are raised to a
// floor.
func New(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      max(writeTimeout, minWriteTimeout),
		IdleTimeout:       60 * time.Second,
	}
}

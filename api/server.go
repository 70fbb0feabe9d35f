package api

import (
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	idleTimeout       = 60 * time.Second
)

// NewServer wraps handler with the timeouts the relay runs with. The write
// timeout leaves room for the upstream call.
func NewServer(addr string, handler http.Handler, upstreamTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      upstreamTimeout + readTimeout,
		IdleTimeout:       idleTimeout,
	}
}

package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/securelogin-web/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Routes mounts the application routes, including any NotFound handler
	Routes func(chi.Router)

	UseRecoverMW bool
	OnPanic      func()

	// MetricsMW is optional. Rate limits are route middleware mounted by
	// Routes, they see the resolved client IP and the matched pattern.
	MetricsMW func(http.Handler) http.Handler

	// TrustedHops is how many reverse proxies may append to X-Forwarded-For
	TrustedHops int

	// MaxBodyBytes caps request bodies, 0 uses DefaultMaxBodyBytes
	MaxBodyBytes int64

	// Draining reports shutdown in progress; responses then carry
	// Connection: close so keep-alive clients reconnect elsewhere
	Draining func() bool
}

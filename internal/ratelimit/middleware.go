package ratelimit

import (
	"net"
	"net/http"
	"strconv"

	"github.com/keithlinneman/securelogin-web/internal/httpmw"
)

// TooManyRequestsBody is the JSON body served with every 429
const TooManyRequestsBody = `{"error": "Too many requests, please try again later."}`

// Middleware rejects requests over the limit with 429 before they reach next
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := l.identity(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		// store errors were already reported through OnStoreError and fail open
		d, _ := l.Allow(r.Context(), identity)
		if !d.Allowed {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(l.now())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(TooManyRequestsBody + "\n"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// identity is the client IP, prefixed with the route pattern when the
// limiter is per route. ok is false for requests that should not count.
func (l *Limiter) identity(r *http.Request) (string, bool) {
	// prefer the IP resolved by httpmw.ClientIP, it knows which proxies to trust
	ip := httpmw.ClientIPFromContext(r.Context())
	if ip == "" {
		ip = remoteHost(r.RemoteAddr)
	}
	if !l.perRoute {
		return ip, true
	}
	route := httpmw.RoutePattern(r)
	if route == httpmw.UnmatchedRoute {
		return "", false
	}
	return route + ":" + ip, true
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

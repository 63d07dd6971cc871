package httpmw

import (
	"errors"
	"net/http"
)

// RequestTooLargeBody is served with 413 when a body exceeds the limit
const RequestTooLargeBody = `{"error": "request body too large"}`

// MaxBody caps request bodies at limit bytes. A declared Content-Length over
// the limit is rejected up front; otherwise reads past the limit fail with
// *http.MaxBytesError and the handler answers via WriteTooLarge.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				WriteTooLarge(w)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// IsTooLarge reports whether err came from reading past a MaxBody limit
func IsTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func WriteTooLarge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	_, _ = w.Write([]byte(RequestTooLargeBody + "\n"))
}

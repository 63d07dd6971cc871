package httpmw

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/securelogin-web/internal/log"
	"github.com/keithlinneman/securelogin-web/internal/xerrors"
)

// InternalErrorBody is served with the 500 written after a recovered panic
const InternalErrorBody = `{"error":"internal server error"}`

// Recover turns handler panics into a logged error and a 500 JSON response.
// onPanic, if set, runs once per recovered panic. http.ErrAbortHandler is
// re-raised so net/http can abort the connection as intended.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.Wrap(e, "handler panic")
				} else {
					err = xerrors.Newf("handler panic: %v", rec)
				}
				if errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error(r.Context(), err, "panic recovered",
					"request_id", RequestIDFromContext(r.Context()),
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				if onPanic != nil {
					onPanic()
				}

				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(InternalErrorBody + "\n"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

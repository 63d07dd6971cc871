package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/securelogin-web/internal/httpmw"
)

func newRouter(m *ServerMetrics) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("hello")) })
	r.Post("/login", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) })
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) })
	return m.Middleware(r)
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func TestMiddleware_LabelsFromChiPattern(t *testing.T) {
	m := New()
	h := newRouter(m)

	serve(h, http.MethodGet, "/")
	serve(h, http.MethodPost, "/login")
	serve(h, http.MethodPost, "/login")

	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", "/", "200")); got != 1 {
		t.Errorf("GET / 200 = %v", got)
	}
	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("POST", "/login", "401")); got != 2 {
		t.Errorf("POST /login 401 = %v", got)
	}
	if n := testutil.CollectAndCount(m.reqDur); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestMiddleware_UnmatchedPathsShareOneLabel(t *testing.T) {
	m := New()
	h := newRouter(m)

	for _, p := range []string{"/a", "/b", "/wp-login.php"} {
		serve(h, http.MethodGet, p)
	}
	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", httpmw.UnmatchedRoute, "404")); got != 3 {
		t.Fatalf("unmatched 404s = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(m.reqTotal); n != 1 {
		t.Fatalf("series = %d, raw paths must not become labels", n)
	}
}

func TestMiddleware_ErrorsAndSizes(t *testing.T) {
	m := New()
	h := newRouter(m)

	serve(h, http.MethodGet, "/boom")
	serve(h, http.MethodPost, "/login")
	rec := serve(h, http.MethodGet, "/")

	if rec.Body.String() != "hello" {
		t.Fatalf("body altered: %q", rec.Body.String())
	}
	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("GET", "/boom")); got != 1 {
		t.Errorf("5xx counter = %v", got)
	}
	if n := testutil.CollectAndCount(m.errorsTotal); n != 1 {
		t.Errorf("4xx should not count as errors, series = %d", n)
	}
	if n := testutil.CollectAndCount(m.respBytes); n != 3 {
		t.Errorf("size series = %d, want 3", n)
	}
}

func TestMiddleware_NoWriteDefaultsTo200(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {})
	serve(m.Middleware(r), http.MethodGet, "/")

	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", "/", "200")); got != 1 {
		t.Fatalf("= %v", got)
	}
}

func TestMiddleware_Inflight(t *testing.T) {
	m := New()
	var during float64
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(m.inflight)
	}))
	serve(h, http.MethodGet, "/")

	if during != 1 {
		t.Fatalf("inflight during request = %v", during)
	}
	if after := testutil.ToFloat64(m.inflight); after != 0 {
		t.Fatalf("inflight after request = %v", after)
	}
}

func TestStatusWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	sw.WriteHeader(http.StatusTooManyRequests)
	sw.WriteHeader(http.StatusOK)
	_, _ = sw.Write([]byte("abc"))

	if sw.status != http.StatusTooManyRequests || sw.n != 3 {
		t.Fatalf("status=%d n=%d", sw.status, sw.n)
	}
}

func TestTraceExemplar(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")

	sampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled,
	}))
	unsampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid,
	}))

	if ex := traceExemplar(sampled); ex["trace_id"] != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("exemplar = %v", ex)
	}
	if traceExemplar(unsampled) != nil || traceExemplar(context.Background()) != nil {
		t.Fatal("only sampled traces get exemplars")
	}
}

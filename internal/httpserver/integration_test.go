package httpserver_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/keithlinneman/securelogin-web/internal/auth"
	"github.com/keithlinneman/securelogin-web/internal/httpserver"
	"github.com/keithlinneman/securelogin-web/internal/log"
	"github.com/keithlinneman/securelogin-web/internal/metrics"
	"github.com/keithlinneman/securelogin-web/internal/ratelimit"
	"github.com/keithlinneman/securelogin-web/internal/sitehttp"
)

// newApp wires the public stack the way main does, with in-memory limiters:
// a per-route default limit plus the login limit stacked on /login
func newApp(t *testing.T) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rule, err := ratelimit.ParseRule("5/minute")
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	perRoute := ratelimit.New(ratelimit.NewMemoryStore(ctx), rule,
		ratelimit.WithScope("default"),
		ratelimit.WithPerRoute(),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied("default") }),
	)
	login := ratelimit.New(ratelimit.NewMemoryStore(ctx), rule,
		ratelimit.WithScope("login"),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied("login") }),
	)

	site, err := sitehttp.New(sitehttp.Options{
		Logger:     log.Nop(),
		Verifier:     auth.NewStaticVerifier("admin", "secret"),
		DefaultLimit: perRoute.Middleware,
		LoginLimit:   login.Middleware,
		OnLogin:      m.IncLoginAttempt,
	})
	if err != nil {
		t.Fatalf("sitehttp.New: %v", err)
	}

	return httpserver.NewHandler(httpserver.Options{
		Logger:       log.Nop(),
		Routes:       site.RegisterRoutes,
		UseRecoverMW: true,
		MetricsMW:    m.Middleware,
		MaxBodyBytes: 4096,
	})
}

func send(h http.Handler, method, path, remote string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = remote
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertSecurityHeaders(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	want := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q (status %d)", k, got, v, rec.Code)
		}
	}
	if !strings.Contains(rec.Header().Get("Content-Security-Policy"), "default-src 'self'") {
		t.Errorf("Content-Security-Policy = %q", rec.Header().Get("Content-Security-Policy"))
	}
}

func TestIntegration_Index(t *testing.T) {
	h := newApp(t)
	rec := send(h, http.MethodGet, "/", "203.0.113.1:1000", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != sitehttp.IndexBody {
		t.Fatalf("GET / = %d %q", rec.Code, rec.Body.String())
	}
	assertSecurityHeaders(t, rec)
}

func TestIntegration_LoginFlows(t *testing.T) {
	h := newApp(t)

	form := send(h, http.MethodGet, "/login", "203.0.113.2:1000", nil)
	if form.Code != http.StatusOK || !strings.Contains(form.Body.String(), `name="password"`) {
		t.Fatalf("GET /login = %d", form.Code)
	}
	assertSecurityHeaders(t, form)

	ok := send(h, http.MethodPost, "/login", "203.0.113.3:1000", url.Values{"username": {"admin"}, "password": {"secret"}})
	if ok.Code != http.StatusOK || strings.TrimSpace(ok.Body.String()) != sitehttp.LoginSuccessBody {
		t.Fatalf("good login = %d %q", ok.Code, ok.Body.String())
	}
	assertSecurityHeaders(t, ok)

	bad := send(h, http.MethodPost, "/login", "203.0.113.4:1000", url.Values{"username": {"admin"}, "password": {"wrong"}})
	if bad.Code != http.StatusUnauthorized || strings.TrimSpace(bad.Body.String()) != sitehttp.LoginFailureBody {
		t.Fatalf("bad login = %d %q", bad.Code, bad.Body.String())
	}
	assertSecurityHeaders(t, bad)
}

func TestIntegration_NotFoundCarriesHeaders(t *testing.T) {
	h := newApp(t)
	rec := send(h, http.MethodGet, "/nope", "203.0.113.5:1000", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	assertSecurityHeaders(t, rec)
}

func TestIntegration_SixthRequestLimited(t *testing.T) {
	h := newApp(t)
	const client = "198.51.100.10:5555"

	for i := 1; i <= 5; i++ {
		if rec := send(h, http.MethodGet, "/", client, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := send(h, http.MethodGet, "/", client, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("6th request: status %d, want 429", rec.Code)
	}
	if got := rec.Body.String(); got != ratelimit.TooManyRequestsBody+"\n" {
		t.Fatalf("429 body = %q", got)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}
	assertSecurityHeaders(t, rec)

	// another client is unaffected
	if other := send(h, http.MethodGet, "/", "198.51.100.11:5555", nil); other.Code != http.StatusOK {
		t.Fatalf("other client: status %d", other.Code)
	}
}

func TestIntegration_RoutesHaveSeparateBudgets(t *testing.T) {
	h := newApp(t)
	const client = "198.51.100.40:1000"

	for i := 1; i <= 5; i++ {
		if rec := send(h, http.MethodGet, "/", client, nil); rec.Code != http.StatusOK {
			t.Fatalf("GET / #%d: status %d", i, rec.Code)
		}
	}
	if rec := send(h, http.MethodGet, "/login", client, nil); rec.Code != http.StatusOK {
		t.Fatalf("first GET /login after browsing /: status %d, want 200", rec.Code)
	}
}

func TestIntegration_NotFoundNotLimited(t *testing.T) {
	h := newApp(t)
	const client = "198.51.100.41:1000"

	for i := 1; i <= 3; i++ {
		if rec := send(h, http.MethodGet, "/", client, nil); rec.Code != http.StatusOK {
			t.Fatalf("GET / #%d: status %d", i, rec.Code)
		}
		if rec := send(h, http.MethodGet, "/favicon.ico", client, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("GET /favicon.ico #%d: status %d, want 404", i, rec.Code)
		}
	}
	for i := 0; i < 10; i++ {
		if rec := send(h, http.MethodGet, "/favicon.ico", client, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("extra 404 #%d: status %d", i+1, rec.Code)
		}
	}
	if rec := send(h, http.MethodGet, "/login", client, nil); rec.Code != http.StatusOK {
		t.Fatalf("GET /login after 404s: status %d, want 200", rec.Code)
	}
}

func TestIntegration_LoginFailuresLimited(t *testing.T) {
	h := newApp(t)
	const client = "198.51.100.20:1234"
	bad := url.Values{"username": {"admin"}, "password": {"guess"}}

	for i := 1; i <= 5; i++ {
		if rec := send(h, http.MethodPost, "/login", client, bad); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d, want 401", i, rec.Code)
		}
	}
	// the right password does not get through once limited
	good := url.Values{"username": {"admin"}, "password": {"secret"}}
	if rec := send(h, http.MethodPost, "/login", client, good); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("6th attempt: status %d, want 429", rec.Code)
	}
}

func TestIntegration_OversizedLogin(t *testing.T) {
	h := newApp(t)
	huge := url.Values{"username": {"admin"}, "password": {strings.Repeat("p", 8192)}}
	rec := send(h, http.MethodPost, "/login", "198.51.100.30:1", huge)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	assertSecurityHeaders(t, rec)
}

// Package sitehttp serves the public pages: the home page and the login form
// and submission endpoint.
package sitehttp

import (
	"bytes"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/securelogin-web/internal/auth"
	"github.com/keithlinneman/securelogin-web/internal/httpmw"
	"github.com/keithlinneman/securelogin-web/internal/log"
	"github.com/keithlinneman/securelogin-web/internal/webassets"
	"github.com/keithlinneman/securelogin-web/internal/xerrors"
)

const (
	IndexBody = "Welcome to the Secure Flask App!"

	LoginSuccessBody = `{"message": "Login successful"}`
	LoginFailureBody = `{"error": "Invalid credentials"}`
	NotFoundBody     = `{"error": "not found"}`
)

// login attempt outcomes passed to OnLogin
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// multipart forms are parsed in memory up to this size; MaxBody caps it anyway
const maxFormMemory = 32 << 10

type Options struct {
	Logger   log.Logger
	Verifier auth.Verifier

	// DefaultLimit wraps every route, normally the per-route default rate
	// limiter. LoginLimit additionally wraps the /login endpoints. Either
	// may be nil.
	DefaultLimit func(http.Handler) http.Handler
	LoginLimit   func(http.Handler) http.Handler

	// OnLogin is called with ResultSuccess or ResultFailure after each
	// credential check
	OnLogin func(result string)

	// Title is shown on the login page
	Title string
}

type Handlers struct {
	logger       log.Logger
	verifier     auth.Verifier
	defaultLimit func(http.Handler) http.Handler
	loginLimit   func(http.Handler) http.Handler
	onLogin      func(result string)
	title        string
}

func New(opts Options) (*Handlers, error) {
	if opts.Verifier == nil {
		return nil, xerrors.New("sitehttp: verifier is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Title == "" {
		opts.Title = "Login"
	}
	return &Handlers{
		logger:       opts.Logger.With("module", "login"),
		verifier:     opts.Verifier,
		defaultLimit: opts.DefaultLimit,
		loginLimit:   opts.LoginLimit,
		onLogin:      opts.OnLogin,
		title:        opts.Title,
	}, nil
}

// RegisterRoutes mounts the public routes on r. Limits run after routing
// so unmatched paths are never counted; /login passes both limits.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		use(r, h.defaultLimit)
		r.With(httpmw.Scope("index")).Get("/", h.Index)

		r.Group(func(r chi.Router) {
			use(r, h.loginLimit)
			r.Use(httpmw.Scope("login"))
			r.Get("/login", h.LoginForm)
			r.Post("/login", h.Login)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, NotFoundBody)
	})
}

func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(IndexBody))
}

func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := webassets.LoginTemplate().Execute(&buf, webassets.LoginPage{Title: h.title}); err != nil {
		log.FromContext(r.Context()).Error(r.Context(), xerrors.Wrap(err, "render login form"), "login form render failed")
		writeJSON(w, http.StatusInternalServerError, httpmw.InternalErrorBody)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Login checks the submitted credentials. Missing or malformed fields are
// treated as empty strings and fail like any other wrong password. The
// password is never logged.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := parseLoginForm(r); err != nil && httpmw.IsTooLarge(err) {
		httpmw.WriteTooLarge(w)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	fields := []any{
		"username", username,
		"request_id", httpmw.RequestIDFromContext(ctx),
		"client.address", httpmw.ClientIPFromContext(ctx),
	}

	if h.verifier.Verify(ctx, username, password) {
		h.logger.Info(ctx, "successful login", fields...)
		h.report(ResultSuccess)
		writeJSON(w, http.StatusOK, LoginSuccessBody)
		return
	}

	h.logger.Warn(ctx, "failed login attempt", fields...)
	h.report(ResultFailure)
	writeJSON(w, http.StatusUnauthorized, LoginFailureBody)
}

func (h *Handlers) report(result string) {
	if h.onLogin != nil {
		h.onLogin(result)
	}
}

// parseLoginForm accepts urlencoded and multipart bodies. Errors other than
// an oversized body leave whatever fields were parsed.
func parseLoginForm(r *http.Request) error {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == "multipart/form-data" {
		return r.ParseMultipartForm(maxFormMemory)
	}
	return r.ParseForm()
}

func use(r chi.Router, mw func(http.Handler) http.Handler) {
	if mw != nil {
		r.Use(mw)
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}

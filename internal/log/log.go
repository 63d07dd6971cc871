// Package log is the application logger. Handlers log through a ctx-first
// Logger so records pick up the trace and span of the request; the slog
// backend adds stacks and error chains, and tees every record into the
// append-only auth log file.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	// With returns a child carrying extra fields, e.g. module=login
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	// Sync flushes and closes the log file; later records go to stdout only
	Sync() error
}

type Options struct {
	App     string
	Version string

	Level           slog.Level
	StacktraceLevel slog.Level
	JsonFormat      bool

	IncludeErrorLinks bool
	MaxErrorLinks     int

	// FilePath is the append-only log file, tee'd with stdout. Writer
	// replaces both, for tests.
	FilePath string
	Writer   io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel accepts the -log-level and -stacktrace-level spellings
func ParseLevel(s string) (slog.Level, error) {
	levels := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
}

type loggerKey struct{}

// WithContext stores l for handlers further down the middleware chain
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext is the request logger set by httpmw.WithLogger, or a silent
// one outside a request
func FromContext(ctx context.Context) Logger {
	if l, _ := ctx.Value(loggerKey{}).(Logger); l != nil {
		return l
	}
	return discard{}
}

// Nop returns a Logger that drops every record
func Nop() Logger { return discard{} }

type discard struct{}

func (d discard) With(...any) Logger                         { return d }
func (discard) Debug(context.Context, string, ...any)        {}
func (discard) Info(context.Context, string, ...any)         {}
func (discard) Warn(context.Context, string, ...any)         {}
func (discard) Error(context.Context, error, string, ...any) {}
func (discard) Sync() error                                  { return nil }

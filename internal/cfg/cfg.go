// Package cfg holds process configuration. Values come from flags, then
// PREFIX_ environment variables, then an optional .env file, in that order
// of precedence.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/securelogin-web/internal/log"
	"github.com/keithlinneman/securelogin-web/internal/ratelimit"
)

// EnvPrefix is prepended to the upper-cased flag name to form its env var
const EnvPrefix = "SECURELOGIN_"

type App struct {
	LogJSON           bool
	LogLevel          string
	LogFile           string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	Debug             bool

	HTTPPort     int
	AdminPort    int
	TrustedHops  int
	MaxBodyBytes int64
	DrainDelay   time.Duration

	DefaultLimit     string
	LoginLimit       string
	RateLimitStore   string
	RateLimitMaxKeys int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisPrefix      string

	LoginUsername             string
	LoginPassword             string
	LoginPasswordHash         string
	LoginPasswordHashSSMParam string

	EnablePprof     bool
	EnableTracing   bool
	EnablePyroscope bool
	OTLPEndpoint    string
	TraceSample     float64
	PyroServer      string
	PyroTenantID    string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.LogFile, "log-file", "app.log", "append-only log file, empty to log to stdout only")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.BoolVar(&c.Debug, "debug", false, "force debug logging")

	fs.IntVar(&c.HTTPPort, "http-port", 5000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of us whose X-Forwarded-For entries are trusted")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 4096, "max request body size in bytes")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 5*time.Second, "how long readiness fails before the listener shuts down")

	fs.StringVar(&c.DefaultLimit, "default-limit", "5/minute", "rate limit applied to every route per client")
	fs.StringVar(&c.LoginLimit, "login-limit", "5/minute", "additional rate limit on /login per client")
	fs.StringVar(&c.RateLimitStore, "ratelimit-store", "memory", "memory|redis")
	fs.IntVar(&c.RateLimitMaxKeys, "ratelimit-max-keys", 100000, "max tracked clients per in-memory limiter (0 = unbounded)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for the shared rate limit store")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "securelogin:rl:", "key prefix for rate limit counters in redis")

	fs.StringVar(&c.LoginUsername, "login-username", "admin", "accepted login username")
	fs.StringVar(&c.LoginPassword, "login-password", "secret", "accepted login password (plaintext demo credential)")
	fs.StringVar(&c.LoginPasswordHash, "login-password-hash", "", "bcrypt hash of the login password, replaces -login-password")
	fs.StringVar(&c.LoginPasswordHashSSMParam, "login-password-hash-ssm-param", "", "SSM SecureString parameter holding the bcrypt hash")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load %s: %w", strings.Join(present, ","), err)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// EffectiveLogLevel folds -debug into -log-level
func (c App) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be >= 0)", c.TrustedHops))
	}
	if c.MaxBodyBytes < 64 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be >= 64)", c.MaxBodyBytes))
	}
	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_DELAY %s (must be >= 0)", c.DrainDelay))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Rate limiting
	if _, err := ratelimit.ParseRule(c.DefaultLimit); err != nil {
		errs = append(errs, fmt.Errorf("invalid DEFAULT_LIMIT: %w", err))
	}
	if _, err := ratelimit.ParseRule(c.LoginLimit); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOGIN_LIMIT: %w", err))
	}
	if c.RateLimitMaxKeys < 0 {
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_MAX_KEYS %d (must be >= 0)", c.RateLimitMaxKeys))
	}
	switch c.RateLimitStore {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR required when RATELIMIT_STORE=redis"))
		} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
		if c.RedisDB < 0 {
			errs = append(errs, fmt.Errorf("invalid REDIS_DB %d", c.RedisDB))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_STORE %q (must be memory|redis)", c.RateLimitStore))
	}

	// Credentials
	if strings.TrimSpace(c.LoginUsername) == "" {
		errs = append(errs, fmt.Errorf("LOGIN_USERNAME is required"))
	}
	if c.LoginPasswordHash != "" && c.LoginPasswordHashSSMParam != "" {
		errs = append(errs, fmt.Errorf("LOGIN_PASSWORD_HASH and LOGIN_PASSWORD_HASH_SSM_PARAM are mutually exclusive"))
	}
	if c.LoginPasswordHash == "" && c.LoginPasswordHashSSMParam == "" && c.LoginPassword == "" {
		errs = append(errs, fmt.Errorf("one of LOGIN_PASSWORD, LOGIN_PASSWORD_HASH or LOGIN_PASSWORD_HASH_SSM_PARAM is required"))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pyroscope
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}

	return errors.Join(errs...)
}

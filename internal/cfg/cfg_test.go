package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet so tests never touch flag.CommandLine
func newTestConfig(t *testing.T, args []string) (App, *flag.FlagSet) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c, fs
}

func TestRegister_Defaults(t *testing.T) {
	c, _ := newTestConfig(t, nil)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"LogLevel", c.LogLevel, "info"},
		{"LogFile", c.LogFile, "app.log"},
		{"HTTPPort", c.HTTPPort, 5000},
		{"AdminPort", c.AdminPort, 9000},
		{"DefaultLimit", c.DefaultLimit, "5/minute"},
		{"LoginLimit", c.LoginLimit, "5/minute"},
		{"RateLimitStore", c.RateLimitStore, "memory"},
		{"LoginUsername", c.LoginUsername, "admin"},
		{"LoginPassword", c.LoginPassword, "secret"},
		{"MaxBodyBytes", c.MaxBodyBytes, int64(4096)},
		{"DrainDelay", c.DrainDelay, 5 * time.Second},
		{"EnablePprof", c.EnablePprof, false},
		{"Debug", c.Debug, false},
	}
	for _, ck := range checks {
		if ck.got != ck.want {
			t.Errorf("%s = %v, want %v", ck.name, ck.got, ck.want)
		}
	}

	if err := Validate(c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"HTTP_PORT", "8088")
	t.Setenv(pfx+"LOGIN_LIMIT", "3 per minute")
	t.Setenv(pfx+"RATELIMIT_STORE", "redis")
	t.Setenv(pfx+"REDIS_ADDR", "redis:6379")
	t.Setenv(pfx+"DEBUG", "true")

	c, fs := newTestConfig(t, nil)
	FillFromEnv(fs, pfx, nil)

	if c.HTTPPort != 8088 {
		t.Errorf("HTTPPort = %d, want 8088", c.HTTPPort)
	}
	if c.LoginLimit != "3 per minute" {
		t.Errorf("LoginLimit = %q", c.LoginLimit)
	}
	if c.RateLimitStore != "redis" || c.RedisAddr != "redis:6379" {
		t.Errorf("redis settings not applied: %q %q", c.RateLimitStore, c.RedisAddr)
	}
	if c.EffectiveLogLevel() != "debug" {
		t.Errorf("EffectiveLogLevel = %q, want debug", c.EffectiveLogLevel())
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")

	c, fs := newTestConfig(t, []string{"-http-port=9090"})
	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090 (cli)", c.HTTPPort)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "overrides env") {
		t.Errorf("override messages = %v", msgs)
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"HTTP_PORT", "not-a-number")

	c, fs := newTestConfig(t, nil)
	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 5000 {
		t.Errorf("HTTPPort = %d, want default 5000", c.HTTPPort)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "ignoring invalid env") {
		t.Errorf("messages = %v", msgs)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "TESTDOTENV_LOGIN_USERNAME=operator\nTESTDOTENV_HTTP_PORT=6000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// already-set variables must win over the file
	t.Setenv("TESTDOTENV_HTTP_PORT", "6100")
	t.Cleanup(func() { os.Unsetenv("TESTDOTENV_LOGIN_USERNAME") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	c, fs := newTestConfig(t, nil)
	FillFromEnv(fs, "TESTDOTENV_", nil)

	if c.LoginUsername != "operator" {
		t.Errorf("LoginUsername = %q, want operator from .env", c.LoginUsername)
	}
	if c.HTTPPort != 6100 {
		t.Errorf("HTTPPort = %d, want 6100 from process env", c.HTTPPort)
	}
}

func TestLoadDotEnv_MissingFileIsFine(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c, _ := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-default-limit=0/minute",
		"-login-limit=five per fortnight",
		"-ratelimit-store=memcached",
		"-login-username=",
		"-trace-sample=2.0",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-max-body-bytes=1",
	})

	err := Validate(c)
	for _, want := range []string{
		"invalid HTTP_PORT",
		"invalid ADMIN_PORT",
		"invalid LOG_LEVEL",
		"invalid DEFAULT_LIMIT",
		"invalid LOGIN_LIMIT",
		"invalid RATELIMIT_STORE",
		"LOGIN_USERNAME is required",
		"invalid TRACE_SAMPLE",
		"OTLP_ENDPOINT must be host:port",
		"PYRO_SERVER must be a URL",
		"invalid MAX_BODY_BYTES",
	} {
		wantErrContains(t, err, want)
	}
}

func TestValidate_Redis(t *testing.T) {
	c, _ := newTestConfig(t, []string{"-ratelimit-store=redis"})
	wantErrContains(t, Validate(c), "REDIS_ADDR required")

	c, _ = newTestConfig(t, []string{"-ratelimit-store=redis", "-redis-addr=localhost"})
	wantErrContains(t, Validate(c), "REDIS_ADDR must be host:port")

	c, _ = newTestConfig(t, []string{"-ratelimit-store=redis", "-redis-addr=localhost:6379"})
	if err := Validate(c); err != nil {
		t.Fatalf("valid redis config rejected: %v", err)
	}
}

func TestValidate_Credentials(t *testing.T) {
	c, _ := newTestConfig(t, []string{
		"-login-password-hash=$2a$10$abc",
		"-login-password-hash-ssm-param=/app/securelogin/hash",
	})
	wantErrContains(t, Validate(c), "mutually exclusive")

	c, _ = newTestConfig(t, []string{"-login-password="})
	wantErrContains(t, Validate(c), "is required")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/securelogin-web/internal/cfg"
	"github.com/keithlinneman/securelogin-web/internal/health"
	"github.com/keithlinneman/securelogin-web/internal/httpserver"
	"github.com/keithlinneman/securelogin-web/internal/log"
	"github.com/keithlinneman/securelogin-web/internal/metrics"
	"github.com/keithlinneman/securelogin-web/internal/opshttp"
	"github.com/keithlinneman/securelogin-web/internal/otelx"
	"github.com/keithlinneman/securelogin-web/internal/prof"
	"github.com/keithlinneman/securelogin-web/internal/sitehttp"
	v "github.com/keithlinneman/securelogin-web/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// flags > env > .env file > defaults
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%s)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion, vi.Dirty(),
		)
		os.Exit(0)
	}

	if err := cfg.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lg, err := newLogger(conf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	if code := run(ctx, L, conf, vi); code != 0 {
		_ = lg.Sync()
		os.Exit(code)
	}
	_ = lg.Sync()
}

func newLogger(conf cfg.App) (log.Logger, error) {
	lvl, err := log.ParseLevel(conf.EffectiveLogLevel())
	if err != nil {
		return nil, err
	}
	var stackLvl slog.Level
	if conf.StacktraceLevel != "" {
		if stackLvl, err = log.ParseLevel(conf.StacktraceLevel); err != nil {
			return nil, err
		}
	}
	return log.New(log.Options{
		App:               v.AppName,
		Version:           v.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		FilePath:          conf.LogFile,
	})
}

// run owns every resource so deferred cleanup happens before main exits
func run(ctx context.Context, L log.Logger, conf cfg.App, vi v.Info) int {
	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.Dirty(),
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"default_limit", conf.DefaultLimit,
		"login_limit", conf.LoginLimit,
		"ratelimit_store", conf.RateLimitStore,
		"log_file", conf.LogFile,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfo("server", vi)

	stopProf, err := prof.Start(ctx, L, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		// profiling is best effort
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	} else {
		m.SetProfilingActive(conf.EnablePyroscope)
	}
	defer stopProf()

	// Insecure because the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without tracing")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	verifier, err := newVerifier(ctx, L, conf)
	if err != nil {
		L.Error(ctx, err, "failed to set up credential verifier")
		return 1
	}

	limiters, err := newLimiters(ctx, L, conf, m)
	if err != nil {
		L.Error(ctx, err, "failed to set up rate limiting")
		return 1
	}
	defer limiters.Close()

	site, err := sitehttp.New(sitehttp.Options{
		Logger:     L,
		Verifier:     verifier,
		DefaultLimit: limiters.perRoute.Middleware,
		LoginLimit:   limiters.login.Middleware,
		OnLogin:      m.IncLoginAttempt,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create login handlers")
		return 1
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Timeout("ratelimit store", 2*time.Second, health.CheckFunc(limiters.Ping)),
	)

	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Routes:       site.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		TrustedHops:  conf.TrustedHops,
		MaxBodyBytes: conf.MaxBodyBytes,
		Draining:     gate.Draining,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		return 1
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener for metrics, health and pprof; it refuses public and
	// proxied requests in case the network policy is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return 1
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending traffic, and close
	// keep-alive connections as their next responses go out
	gate.Set("draining")
	drain(L, conf.DrainDelay)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
	return 0
}

// drain waits out d so in-flight requests finish; a second signal skips it
func drain(L log.Logger, d time.Duration) {
	if d <= 0 {
		return
	}
	L.Info(context.Background(), "draining before shutdown", "drain_delay", d.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

func notifySystemd() error {
	// set when started under systemd with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return nil
}

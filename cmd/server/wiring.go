package main

import (
	"context"

	"github.com/keithlinneman/securelogin-web/internal/auth"
	"github.com/keithlinneman/securelogin-web/internal/cfg"
	"github.com/keithlinneman/securelogin-web/internal/log"
	"github.com/keithlinneman/securelogin-web/internal/metrics"
	"github.com/keithlinneman/securelogin-web/internal/ratelimit"
	"github.com/keithlinneman/securelogin-web/internal/xerrors"
)

// newVerifier picks the credential source: SSM hash, then a configured
// hash, then the plaintext demo password
func newVerifier(ctx context.Context, L log.Logger, conf cfg.App) (auth.Verifier, error) {
	switch {
	case conf.LoginPasswordHashSSMParam != "":
		client, err := auth.NewSSMClient(ctx)
		if err != nil {
			return nil, err
		}
		hash, err := auth.HashFromSSM(ctx, client, conf.LoginPasswordHashSSMParam)
		if err != nil {
			return nil, err
		}
		L.Info(ctx, "loaded login password hash from ssm", "param", conf.LoginPasswordHashSSMParam)
		return auth.NewBcryptVerifier(conf.LoginUsername, hash)
	case conf.LoginPasswordHash != "":
		return auth.NewBcryptVerifier(conf.LoginUsername, conf.LoginPasswordHash)
	default:
		L.Warn(ctx, "using plaintext login password from config, set login-password-hash for real deployments")
		return auth.NewStaticVerifier(conf.LoginUsername, conf.LoginPassword), nil
	}
}

type limiterSet struct {
	// perRoute gives each public route its own budget per client, login is
	// stacked on /login
	perRoute *ratelimit.Limiter
	login    *ratelimit.Limiter
	stores []ratelimit.Store
	close  func() error
}

// Ping checks every backing store, for readiness
func (s *limiterSet) Ping(ctx context.Context) error {
	for _, st := range s.stores {
		if err := st.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *limiterSet) Close() {
	if s.close != nil {
		_ = s.close()
	}
}

// newLimiters builds the per-route default and login scoped limiters on the configured
// store and routes their callbacks into logs and metrics
func newLimiters(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.ServerMetrics) (*limiterSet, error) {
	defaultRule, err := ratelimit.ParseRule(conf.DefaultLimit)
	if err != nil {
		return nil, xerrors.Wrap(err, "default limit")
	}
	loginRule, err := ratelimit.ParseRule(conf.LoginLimit)
	if err != nil {
		return nil, xerrors.Wrap(err, "login limit")
	}

	set := &limiterSet{}
	var defaultStore, loginStore ratelimit.Store
	switch conf.RateLimitStore {
	case "redis":
		rs, err := ratelimit.DialRedis(ctx, ratelimit.RedisOptions{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
			Prefix:   conf.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		// keys are scoped per limiter so one store serves both
		defaultStore, loginStore = rs, rs
		set.stores = []ratelimit.Store{rs}
		set.close = rs.Close
		L.Info(ctx, "rate limit counters in redis", "redis_addr", conf.RedisAddr, "redis_prefix", conf.RedisPrefix)
	default:
		defaultStore = ratelimit.NewMemoryStore(ctx, ratelimit.WithMaxKeys(conf.RateLimitMaxKeys))
		loginStore = ratelimit.NewMemoryStore(ctx, ratelimit.WithMaxKeys(conf.RateLimitMaxKeys))
		set.stores = []ratelimit.Store{defaultStore, loginStore}
	}

	set.perRoute = newScopedLimiter(ctx, L, m, "default", defaultStore, defaultRule, ratelimit.WithPerRoute())
	set.login = newScopedLimiter(ctx, L, m, "login", loginStore, loginRule)
	return set, nil
}

func newScopedLimiter(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, scope string, store ratelimit.Store, rule ratelimit.Rule, extra ...ratelimit.Option) *ratelimit.Limiter {
	L = L.With("module", "ratelimit", "scope", scope)
	opts := []ratelimit.Option{
		ratelimit.WithScope(scope),
		ratelimit.WithOnDenied(func(string) {
			m.IncRateLimitDenied(scope)
		}),
		// one warning per key per window; per-route keys are route:ip
		ratelimit.WithOnFirstDenied(func(key string) {
			L.Warn(ctx, "rate limit triggered", "ratelimit.key", key, "limit", rule.String())
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity(scope)
			L.Warn(ctx, "rate limit capacity reached, rejecting new clients until windows expire")
		}),
		ratelimit.WithOnStoreError(func(err error) {
			m.IncRateLimitStoreError(scope)
			L.Error(ctx, err, "rate limit store error, allowing request")
		}),
	}
	return ratelimit.New(store, rule, append(opts, extra...)...)
}

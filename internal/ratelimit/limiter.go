package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of one check_and_increment for a client
type Decision struct {
	Allowed   bool
	Count     int64
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole seconds until the window closes, at least 1
func (d Decision) RetryAfter(now time.Time) int {
	secs := int((d.ResetAt.Sub(now) + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter applies one Rule to client identities within a scope
type Limiter struct {
	store Store
	rule  Rule
	scope string
	now   func() time.Time

	// perRoute splits the budget by matched chi route
	perRoute bool

	// denied remembers, per identity, the window we already reported so
	// OnFirstDenied fires once per offender per window
	mu     sync.Mutex
	denied map[string]time.Time

	// capacityLog throttles the capacity callback, a flood of new clients
	// would otherwise call it on every request
	capacityLog rate.Sometimes

	// OnFirstDenied is called once per identity per window when it first
	// goes over. The identity is the client IP, or route:ip when per route.
	OnFirstDenied func(identity string)

	// OnDenied is called on every rejected request
	OnDenied func(identity string)

	// OnCapacity is called (at most every 10s) when the store refuses new keys
	OnCapacity func()

	// OnStoreError is called when the store fails and the request is let through
	OnStoreError func(err error)
}

type Option func(*Limiter)

// WithScope namespaces counter keys so stacked limiters keep separate budgets
func WithScope(scope string) Option {
	return func(l *Limiter) { l.scope = scope }
}

// WithOnFirstDenied sets a callback for the first denial per visitor per window, used for logging.
// Separate from OnDenied so we log once but count every denial.
func WithOnFirstDenied(fn func(identity string)) Option {
	return func(l *Limiter) { l.OnFirstDenied = fn }
}

// WithOnDenied sets a callback for every denied request, used for prometheus counters
func WithOnDenied(fn func(identity string)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// WithOnCapacity sets a callback for when the store is full
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.OnCapacity = fn }
}

// WithOnStoreError sets a callback for store failures
func WithOnStoreError(fn func(err error)) Option {
	return func(l *Limiter) { l.OnStoreError = fn }
}

// WithPerRoute gives every matched route its own budget per client, the way
// a default limit applies to each endpoint separately. Requests that matched
// no route are not counted. The middleware must be mounted on the routes
// (chi Use inside a Group, or With), not ahead of the router.
func WithPerRoute() Option {
	return func(l *Limiter) { l.perRoute = true }
}

// WithNow replaces time.Now for Retry-After and first-denial bookkeeping
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(store Store, rule Rule, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		rule:        rule,
		scope:       "default",
		now:         time.Now,
		denied:      make(map[string]time.Time),
		capacityLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) Rule() Rule { return l.rule }

func (l *Limiter) Scope() string { return l.scope }

func (l *Limiter) key(id string) string { return l.scope + ":" + id }

// Allow counts one request for identity and decides whether it may proceed.
// Store failures fail open and are returned alongside an allowing Decision;
// a full store fails closed.
func (l *Limiter) Allow(ctx context.Context, identity string) (Decision, error) {
	count, resetAt, err := l.store.Incr(ctx, l.key(identity), l.rule.Window)
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			l.capacityLog.Do(func() {
				if l.OnCapacity != nil {
					l.OnCapacity()
				}
			})
			return Decision{Allowed: false, Limit: l.rule.Limit, ResetAt: l.now().Add(l.rule.Window)}, nil
		}
		if l.OnStoreError != nil {
			l.OnStoreError(err)
		}
		return Decision{Allowed: true, Limit: l.rule.Limit, Remaining: l.rule.Limit}, err
	}

	d := Decision{
		Allowed: count <= int64(l.rule.Limit),
		Count:   count,
		Limit:   l.rule.Limit,
		ResetAt: resetAt,
	}
	if d.Allowed {
		d.Remaining = l.rule.Limit - int(count)
		return d, nil
	}

	if l.firstDenial(identity, resetAt) && l.OnFirstDenied != nil {
		l.OnFirstDenied(identity)
	}
	if l.OnDenied != nil {
		l.OnDenied(identity)
	}
	return d, nil
}

// firstDenial reports whether this is the first rejection for identity in
// the window ending at resetAt. Stale entries are pruned on the way.
func (l *Limiter) firstDenial(identity string, resetAt time.Time) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.denied[identity]; ok && prev.Equal(resetAt) {
		return false
	}
	l.denied[identity] = resetAt
	if len(l.denied) > 1024 {
		for id, r := range l.denied {
			if !now.Before(r) {
				delete(l.denied, id)
			}
		}
	}
	return true
}

// Package ratelimit is fixed-window, per-client rate limiting middleware.
//
// Each client identity (resolved IP) gets a counter per scope. The first
// request opens a window of Rule.Window; requests 1..Rule.Limit inside that
// window pass, the rest are rejected with 429 until the window closes, at
// which point the counter starts over from zero.
//
// Counters live in a Store. MemoryStore keeps them in-process and is the
// default for a single instance. RedisStore keeps them in Redis so several
// instances behind a load balancer share one budget per client.
//
// Limiters stack: the default limiter runs per route (WithPerRoute), so each
// endpoint has its own budget and unrouted 404s cost nothing, and a second
// limiter with its own scope wraps /login, so the most restrictive one wins.
//
// What this does NOT protect against:
//   - distributed attacks across many ips
//   - bandwidth-bill attacks, inbound data is already accepted by the time this runs
package ratelimit

// Package health provides the liveness and readiness probes served on the
// admin listener.
//
// Probes compose with [All] and [Any]. [Timeout] bounds a probe that talks to
// a network dependency such as the Redis rate limit store.
//
// [ShutdownGate] fails readiness as soon as shutdown begins so load balancers
// stop routing new requests while in-flight ones drain.
package health

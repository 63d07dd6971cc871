package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrCapacity is returned by a Store that refuses to track another key
var ErrCapacity = errors.New("ratelimit: store at capacity")

// Store counts hits per key in fixed windows. Incr must be atomic per key:
// concurrent calls for the same key each observe a distinct count.
type Store interface {
	// Incr records one hit for key. A key with no live window opens a new
	// one of length window. Returns the count including this hit and when
	// the current window ends.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)

	// Ping reports whether the store is usable, for readiness checks
	Ping(ctx context.Context) error
}

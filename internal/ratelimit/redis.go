package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/securelogin-web/internal/xerrors"
)

// incrScript keeps each window as a hash of the hit count and the absolute
// window end in unix ms. Both are set on the first hit only, so later hits
// never extend the window and every caller sees the same end. A key that
// somehow lost its TTL opens a fresh window.
var incrScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], 'n', 1)
if n == 1 then
	redis.call('HSET', KEYS[1], 'reset', ARGV[2])
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local reset = redis.call('HGET', KEYS[1], 'reset')
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	reset = false
end
if not reset then
	reset = ARGV[2]
	redis.call('HSET', KEYS[1], 'reset', reset)
end
return {n, tonumber(reset)}
`)

// RedisStore keeps counters in Redis so every instance shares one budget per client
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// DialRedis connects and pings before returning, so a bad address fails at startup
func DialRedis(ctx context.Context, o RedisOptions) (*RedisStore, error) {
	if o.Addr == "" {
		return nil, xerrors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrapf(err, "redis ping %s", o.Addr)
	}
	return NewRedisStore(client, o.Prefix), nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	resetMs := s.now().Add(time.Duration(ms) * time.Millisecond).UnixMilli()
	res, err := incrScript.Run(ctx, s.client, []string{s.prefix + key}, ms, resetMs).Int64Slice()
	if err != nil {
		return 0, time.Time{}, xerrors.Wrap(err, "redis incr")
	}
	if len(res) != 2 {
		return 0, time.Time{}, xerrors.Newf("redis incr: unexpected reply %v", res)
	}
	return res[0], time.UnixMilli(res[1]), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return xerrors.Wrap(s.client.Ping(ctx).Err(), "redis ping")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

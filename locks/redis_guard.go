package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-webhooks/core"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultTickKey = "go-webhooks:dispatch:tick"
	DefaultTickTTL = 10 * time.Minute
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisClient is the subset of go-redis used by the guard.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

// RedisTickGuard serializes retry ticks across processes with a Redis lease.
// A tick that outlives the TTL loses the lease; store-level claims still keep
// records from being sent twice.
type RedisTickGuard struct {
	client RedisClient
	key    string
	ttl    time.Duration
	owner  string
	token  func() string
	logger core.Logger
}

type Option func(*RedisTickGuard)

func WithKey(key string) Option {
	return func(g *RedisTickGuard) {
		if key = strings.TrimSpace(key); key != "" {
			g.key = key
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(g *RedisTickGuard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLeaseFrom sizes the TTL to the worker's claim lease so the guard
// outlives any tick that still holds claimed records.
func WithLeaseFrom(cfg core.Config) Option {
	return WithTTL(cfg.ClaimLease())
}

func WithLogger(logger core.Logger) Option {
	return func(g *RedisTickGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithOwner(owner string) Option {
	return func(g *RedisTickGuard) {
		g.owner = strings.TrimSpace(owner)
	}
}

func WithTokenGenerator(next func() string) Option {
	return func(g *RedisTickGuard) {
		if next != nil {
			g.token = next
		}
	}
}

func NewRedisTickGuard(client RedisClient, opts ...Option) (*RedisTickGuard, error) {
	if client == nil {
		return nil, core.ConfigurationError("locks: redis client is required", map[string]any{"field": "redis"})
	}
	guard := &RedisTickGuard{
		client: client,
		key:    DefaultTickKey,
		ttl:    DefaultTickTTL,
		token:  uuid.NewString,
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(guard)
		}
	}
	return guard, nil
}

func (g *RedisTickGuard) TTL() time.Duration {
	if g == nil {
		return 0
	}
	return g.ttl
}

func (g *RedisTickGuard) Key() string {
	if g == nil {
		return ""
	}
	return g.key
}

// TryAcquire takes the lease with SET NX PX. The returned release only deletes
// the key if this acquisition still owns it.
func (g *RedisTickGuard) TryAcquire(ctx context.Context) (func(context.Context), bool, error) {
	if g == nil || g.client == nil {
		return nil, false, core.ConfigurationError("locks: redis tick guard is not configured", nil)
	}
	token := g.token()
	if g.owner != "" {
		token = g.owner + ":" + token
	}
	acquired, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("locks: acquire %s: %w", g.key, err)
	}
	if !acquired {
		return nil, false, nil
	}
	release := func(ctx context.Context) {
		if err := g.release(ctx, token); err != nil {
			g.logger.Error("tick guard release failed", "key", g.key, "ttl", g.ttl.String(), "error", err.Error())
		}
	}
	return release, true, nil
}

func (g *RedisTickGuard) release(ctx context.Context, token string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	err := g.client.Eval(ctx, releaseScript, []string{g.key}, token).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("locks: release %s: %w", g.key, err)
	}
	return nil
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*goredis.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, core.ConfigurationError("locks: redis url is required", map[string]any{"field": "redis_url"})
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, core.ConfigurationError(fmt.Sprintf("locks: invalid redis url: %v", err), map[string]any{"field": "redis_url"})
	}
	return goredis.NewClient(opts), nil
}

var (
	_ core.TickGuard = (*RedisTickGuard)(nil)
	_ RedisClient    = (*goredis.Client)(nil)
)

// Package cache holds the Redis-backed helpers shared by the HTTP layer and
// background jobs.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis configuration
type Config struct {
	Addr            string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password        string        `envconfig:"REDIS_PASSWORD"`
	DB              int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix       string        `envconfig:"REDIS_KEY_PREFIX" default:"payrecon:"`
	RateLimit       int64         `envconfig:"RATE_LIMIT_REQUESTS" default:"120"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// Client wraps a go-redis client with a key prefix.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("redis connection established", "addr", cfg.Addr, "db", cfg.DB)
	return NewFromClient(rdb, cfg.KeyPrefix, logger), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb redis.UniversalClient, prefix string, logger *slog.Logger) *Client {
	return &Client{rdb: rdb, prefix: prefix, logger: logger}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck pings Redis
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// IdempotencyStore keeps HTTP responses keyed by Idempotency-Key.
type IdempotencyStore struct {
	c *Client
}

// Idempotency returns the response cache used by the Idempotency middleware.
func (c *Client) Idempotency() *IdempotencyStore {
	return &IdempotencyStore{c: c}
}

// Get returns a cached response.
func (s *IdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.c.rdb.Get(ctx, s.c.key("idem", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores a response. An existing entry is kept.
func (s *IdempotencyStore) Set(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return s.c.rdb.SetNX(ctx, s.c.key("idem", key), response, ttl).Err()
}

// RateLimiter is a fixed-window counter.
type RateLimiter struct {
	c      *Client
	limit  int64
	window time.Duration
}

// RateLimiter returns a limiter allowing limit requests per window.
func (c *Client) RateLimiter(limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{c: c, limit: limit, window: window}
}

// Allow increments the caller's counter for the current window.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().Unix() / int64(l.window.Seconds())
	k := l.c.key("rl", key, fmt.Sprint(bucket))

	pipe := l.c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.limit, nil
}

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another process")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out single-holder leases.
type Locker struct {
	c *Client
}

// Locker returns the distributed lock helper.
func (c *Client) Locker() *Locker {
	return &Locker{c: c}
}

// Acquire takes the named lease for ttl. The returned func releases it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := ulid.Make().String()
	key := l.c.key("lock", name)

	ok, err := l.c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.c.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.c.logger.Warn("failed to release lock", "lock", name, "error", err)
		}
	}, nil
}

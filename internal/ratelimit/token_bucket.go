package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "promptpeek:ratelimit"

var ErrNoClient = errors.New("redis client is required")

type Config struct {
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	return nil
}

type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// takeScript refills the bucket for the elapsed time, then tries to take
// ARGV[4] tokens. Replies {allowed, remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now

if now > last then
  tokens = math.min(capacity, tokens + (now - last) * refill)
end

local allowed = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / refill)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])

return {allowed, math.floor(tokens), wait}
`)

type RedisTokenBucket struct {
	client      redis.UniversalClient
	cfg         Config
	refillPerMS float64
	now         func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, cfg Config) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:      client,
		cfg:         cfg,
		refillPerMS: float64(cfg.Capacity) / float64(max(cfg.Window.Milliseconds(), 1)),
		now:         time.Now,
	}, nil
}

func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	cost = l.clampCost(cost)
	ttl := 2 * l.cfg.Window

	reply, err := takeScript.Run(
		ctx,
		l.client,
		[]string{l.key(subject)},
		l.cfg.Capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		cost,
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take %d tokens for %q: %w", cost, subject, err)
	}
	return l.decision(reply)
}

func (l *RedisTokenBucket) decision(reply []int64) (Decision, error) {
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("token bucket reply has %d values, want 3", len(reply))
	}
	return Decision{
		Allowed:    reply[0] == 1,
		Limit:      int64(l.cfg.Capacity),
		Remaining:  reply[1],
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

func (l *RedisTokenBucket) clampCost(cost int) int {
	return min(max(cost, 1), l.cfg.Capacity)
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.cfg.KeyPrefix + ":" + subject
}

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis-backed decision cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces this instance's decisions so several enforcers
	// can share one Redis without clobbering each other's entries. Clear
	// removes only keys under the prefix.
	KeyPrefix string

	// TTL bounds how long a decision may be served before Redis expires
	// it. Zero means DefaultRedisTTL, not "no expiry": an unbounded remote
	// cache of stale decisions is never what a caller wants.
	TTL time.Duration

	// OpTimeout caps each Redis round trip so a slow or partitioned Redis
	// degrades the cache to misses instead of stalling enforce.
	OpTimeout time.Duration
}

// DefaultRedisTTL applies when RedisConfig.TTL is zero.
const DefaultRedisTTL = 5 * time.Minute

// DefaultRedisConfig returns a localhost configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "pdp:decision:",
		TTL:       DefaultRedisTTL,
		OpTimeout: 250 * time.Millisecond,
	}
}

// Redis caches decisions in a Redis instance. Every failure is treated as
// a miss (on Get) or silently dropped (on Set/Delete/Clear) and logged --
// the cache is an optimisation, so an unreachable Redis must never fail a
// decision.
type Redis struct {
	client redis.Cmdable
	closer func() error
	cfg    RedisConfig
	logger *zap.Logger
}

var _ Cache = (*Redis)(nil)

// NewRedis connects to Redis per cfg and verifies the connection with a
// ping. A nil logger defaults to zap.NewNop().
func NewRedis(cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	applyRedisDefaults(&cfg)
	client := redis.NewClient(&redis.Options{
		Addr:             cfg.Addr,
		Password:         cfg.Password,
		DB:               cfg.DB,
		DisableIndentity: true,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: connecting to redis at %s: %w", cfg.Addr, err)
	}
	return newRedis(client, client.Close, cfg, logger), nil
}

// NewRedisFromClient wraps an existing client (or a mock) without dialing.
func NewRedisFromClient(client redis.Cmdable, cfg RedisConfig, logger *zap.Logger) *Redis {
	applyRedisDefaults(&cfg)
	return newRedis(client, nil, cfg, logger)
}

func newRedis(client redis.Cmdable, closer func() error, cfg RedisConfig, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, closer: closer, cfg: cfg, logger: logger}
}

func applyRedisDefaults(cfg *RedisConfig) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "pdp:decision:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
}

func (r *Redis) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.OpTimeout)
}

func (r *Redis) Get(key string) (bool, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	val, err := r.client.Get(ctx, r.cfg.KeyPrefix+key).Result()
	if err == redis.Nil {
		return false, false
	}
	if err != nil {
		r.logger.Warn("cache: redis get failed", zap.Error(err))
		return false, false
	}
	return val == "1", true
}

func (r *Redis) Set(key string, allowed bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	val := "0"
	if allowed {
		val = "1"
	}
	if err := r.client.Set(ctx, r.cfg.KeyPrefix+key, val, r.cfg.TTL).Err(); err != nil {
		r.logger.Warn("cache: redis set failed", zap.Error(err))
	}
}

func (r *Redis) Delete(key string) {
	ctx, cancel := r.opCtx()
	defer cancel()
	if err := r.client.Del(ctx, r.cfg.KeyPrefix+key).Err(); err != nil {
		r.logger.Warn("cache: redis delete failed", zap.Error(err))
	}
}

// Clear removes every decision under this instance's key prefix, walking
// the keyspace with SCAN so it never blocks Redis the way KEYS would.
func (r *Redis) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*r.cfg.OpTimeout)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.cfg.KeyPrefix+"*", 256).Result()
		if err != nil {
			r.logger.Warn("cache: redis scan during clear failed", zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				r.logger.Warn("cache: redis delete during clear failed", zap.Error(err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Close releases the underlying connection when this instance owns it.
func (r *Redis) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

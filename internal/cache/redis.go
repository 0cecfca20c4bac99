package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces MCP entries in a shared Redis.
const keyPrefix = "mcp:"

// Redis is a Store on a shared Redis backing, for deployments where several
// instances must observe the same cache state. Read failures degrade to
// misses so an unreachable backing never fails a request.
type Redis struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedis wraps an established client. The caller configures the client;
// Close closes it.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: client, logger: logger}
}

func (r *Redis) key(k string) string { return keyPrefix + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Debug("cache read failed, treating as miss",
				"key", key,
				"err", err,
			)
		}
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return r.Invalidate(ctx, key)
	}
	return r.rdb.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Redis) Invalidate(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.TTL.Ticker <= 0 {
		return errors.New("cache.ttl.ticker must be > 0")
	}
	if c.Cache.TTL.OrderBook <= 0 {
		return errors.New("cache.ttl.order_book must be > 0")
	}
	if c.Cache.TTL.OHLCV <= 0 {
		return errors.New("cache.ttl.ohlcv must be > 0")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}

	if c.Relay.Interval < time.Second {
		return errors.New("relay.interval must be >= 1s")
	}
	if c.Relay.MaxFailures < 1 {
		return errors.New("relay.max_failures must be >= 1")
	}

	return nil
}

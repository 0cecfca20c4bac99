package config

import "time"

// Config is the root configuration for an mcpd instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Exchanges ExchangesConfig `yaml:"exchanges"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Cache     CacheConfig     `yaml:"cache"`
	Retry     RetryConfig     `yaml:"retry"`
	Relay     RelayConfig     `yaml:"relay"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	ID          string `yaml:"id"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds the health/debug HTTP listener settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// ExchangesConfig holds per-exchange adapter settings.
type ExchangesConfig struct {
	Binance ExchangeConfig `yaml:"binance"`
	Kraken  ExchangeConfig `yaml:"kraken"`
	Live    LiveConfig     `yaml:"live"`
}

// ExchangeConfig holds one REST adapter's settings. Empty fields fall back
// to the adapter's own defaults.
type ExchangeConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LiveConfig holds the websocket live-feed adapter settings. The adapter is
// enabled only when URL is set.
type LiveConfig struct {
	URL        string        `yaml:"url"`
	Symbols    []string      `yaml:"symbols"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// FallbackConfig holds the aggregate-quote fallback provider settings. The
// provider is enabled only when APIKey is set.
type FallbackConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Convert string        `yaml:"convert"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig selects and tunes the TTL cache backing store.
type CacheConfig struct {
	Backend         string        `yaml:"backend"` // memory or redis
	Redis           RedisConfig   `yaml:"redis"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	TTL             TTLConfig     `yaml:"ttl"`
}

// RedisConfig holds the shared Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TTLConfig holds per-resource cache lifetimes.
type TTLConfig struct {
	Ticker    time.Duration `yaml:"ticker"`
	OrderBook time.Duration `yaml:"order_book"`
	OHLCV     time.Duration `yaml:"ohlcv"`
}

// RetryConfig bounds retries of upstream source calls.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// RelayConfig tunes the ticker relay poll loops.
type RelayConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	PushUnchanged bool          `yaml:"push_unchanged"`
	MaxFailures   int           `yaml:"max_failures"`
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/cache"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/config"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/fetch"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/relay"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/retry"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/service"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/source"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/mcpd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting mcpd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"environment", cfg.Instance.Environment,
		"cache_backend", cfg.Cache.Backend,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Set up the cache backing store. A Redis that is down at boot is not
	// fatal: reads degrade to misses until it comes back.
	var (
		store       cache.Store
		redisClient *redis.Client
	)
	switch cfg.Cache.Backend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, cache degraded to misses", "addr", cfg.Cache.Redis.Addr, "error", err)
		} else {
			logger.Info("redis connected", "addr", cfg.Cache.Redis.Addr)
		}
		store = cache.NewRedis(redisClient, logger)
	default:
		store = cache.NewMemory(cfg.Cache.CleanupInterval)
	}
	defer store.Close()

	// Register exchange adapters
	registry := source.NewRegistry()
	registry.Register(source.NewBinance(exchangeOptions(cfg.Exchanges.Binance, logger)...))
	registry.Register(source.NewKraken(exchangeOptions(cfg.Exchanges.Kraken, logger)...))

	if cfg.Exchanges.Live.URL != "" {
		live := source.NewLive(source.LiveConfig{
			URL:        cfg.Exchanges.Live.URL,
			Symbols:    cfg.Exchanges.Live.Symbols,
			StaleAfter: cfg.Exchanges.Live.StaleAfter,
		}, logger)
		if err := live.Start(ctx); err != nil {
			logger.Error("failed to start live feed", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			live.Stop(shutdownCtx)
		}()
		registry.Register(live)
	}

	// The fallback provider is registered like any other source, but also
	// handed to the coordinator as the second line behind every primary.
	var fallback source.Adapter
	if cfg.Fallback.APIKey != "" {
		opts := []source.Option{source.WithLogger(logger)}
		if cfg.Fallback.BaseURL != "" {
			opts = append(opts, source.WithBaseURL(cfg.Fallback.BaseURL))
		}
		if cfg.Fallback.Timeout > 0 {
			opts = append(opts, source.WithTimeout(cfg.Fallback.Timeout))
		}
		mc := source.NewMarketCap(cfg.Fallback.APIKey, cfg.Fallback.Convert, opts...)
		registry.Register(mc)
		fallback = mc
	}

	logger.Info("sources registered", "exchanges", registry.Names(), "fallback", fallback != nil)

	// Fetch coordinator
	coordinator := fetch.New(fetch.Config{
		Fallback: fallback,
		Policy: retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			BaseDelay:      cfg.Retry.BaseDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			AttemptTimeout: cfg.Retry.AttemptTimeout,
			Logger:         logger,
		},
		TTL: fetch.TTLConfig{
			Ticker:    cfg.Cache.TTL.Ticker,
			OrderBook: cfg.Cache.TTL.OrderBook,
			OHLCV:     cfg.Cache.TTL.OHLCV,
		},
	}, registry, store, logger)

	// Ticker relay
	ticks := relay.New(relay.Config{
		Interval:      cfg.Relay.Interval,
		Timeout:       cfg.Relay.Timeout,
		PushUnchanged: cfg.Relay.PushUnchanged,
		MaxFailures:   cfg.Relay.MaxFailures,
	}, coordinator, logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		ticks.Stop(shutdownCtx)
	}()

	svc := service.New(registry, coordinator, ticks, logger)

	// Health and debug server
	healthServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: createHealthHandler(cfg, svc, coordinator, ticks, redisClient),
	}

	go func() {
		logger.Info("starting health server", "listen", cfg.Server.Listen)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("mcpd running",
		"instance_id", cfg.Instance.ID,
		"listen", cfg.Server.Listen,
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	// Graceful shutdown of health server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("mcpd stopped")
}

// exchangeOptions maps one exchange's config onto adapter options. Empty
// fields keep the adapter's own defaults.
func exchangeOptions(cfg config.ExchangeConfig, logger *slog.Logger) []source.Option {
	opts := []source.Option{source.WithLogger(logger)}
	if cfg.BaseURL != "" {
		opts = append(opts, source.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, source.WithTimeout(cfg.Timeout))
	}
	return opts
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(cfg *config.Config, svc *service.Service, coordinator *fetch.Coordinator, ticks *relay.Relay, redisClient *redis.Client) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Instance   string                 `json:"instance"`
			Version    string                 `json:"version"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Instance:   cfg.Instance.ID,
			Version:    version.String(),
			Components: make(map[string]interface{}),
		}

		// Check the shared cache. Memory needs no check; an unreachable
		// Redis only degrades reads to misses.
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				health.Status = "degraded"
				health.Components["cache"] = map[string]string{
					"status": "unreachable",
					"error":  err.Error(),
				}
			} else {
				health.Components["cache"] = "connected"
			}
		} else {
			health.Components["cache"] = "memory"
		}

		health.Components["exchanges"] = svc.Exchanges()
		health.Components["feeds"] = ticks.Feeds()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/exchanges", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"exchanges": svc.Exchanges(),
		})
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"fetch": coordinator.Stats(),
			"feeds": ticks.Feeds(),
		})
	})

	return mux
}

// fetchtest exercises the market-data pipeline against real exchanges.
// Usage:
//
//	go run ./cmd/fetchtest -exchange binance -symbol BTC/USDT -op ticker
//	go run ./cmd/fetchtest -exchange kraken -symbol ETH/USD -op ohlcv -timeframe 4h -limit 10
//	go run ./cmd/fetchtest -exchange binance -symbol BTC/USDT -op watch
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/cache"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/fetch"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/relay"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/service"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/source"
)

func main() {
	exchange := flag.String("exchange", "binance", "exchange adapter to query")
	symbol := flag.String("symbol", "BTC/USDT", "trading pair")
	op := flag.String("op", "ticker", "operation: ticker, ohlcv, book, or watch")
	timeframe := flag.String("timeframe", "1h", "ohlcv bar size")
	limit := flag.Int("limit", 10, "ohlcv bar count")
	depth := flag.Int("depth", 5, "order book levels per side")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	registry := source.NewRegistry()
	registry.Register(source.NewBinance(source.WithLogger(logger)))
	registry.Register(source.NewKraken(source.WithLogger(logger)))

	store := cache.NewMemory(0)
	defer store.Close()

	coordinator := fetch.New(fetch.Config{}, registry, store, logger)
	ticks := relay.New(relay.Config{Interval: 5 * time.Second}, coordinator, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ticks.Stop(ctx)
	}()

	svc := service.New(registry, coordinator, ticks, logger)

	if *op == "watch" {
		watch(svc, *exchange, *symbol)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch *op {
	case "ticker":
		t, err := svc.Ticker(ctx, *exchange, *symbol)
		if err != nil {
			log.Fatalf("Ticker failed: %v", err)
		}
		printJSON(t)
	case "ohlcv":
		bars, err := svc.Historical(ctx, *exchange, *symbol, *timeframe, time.Time{}, *limit)
		if err != nil {
			log.Fatalf("Historical failed: %v", err)
		}
		fmt.Printf("%d bars:\n", len(bars))
		for _, b := range bars {
			fmt.Printf("  %s  o=%s h=%s l=%s c=%s v=%s\n",
				b.Timestamp.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
	case "book":
		book, err := svc.OrderBook(ctx, *exchange, *symbol, *depth)
		if err != nil {
			log.Fatalf("OrderBook failed: %v", err)
		}
		printJSON(book)
	default:
		log.Fatalf("unknown op %q", *op)
	}
}

// watch subscribes to one instrument and prints every pushed update until
// interrupted.
func watch(svc *service.Service, exchange, symbol string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sub, err := svc.Subscribe(exchange, symbol)
	if err != nil {
		log.Fatalf("Subscribe failed: %v", err)
	}
	fmt.Printf("watching %s %s (ctrl-c to stop)\n", exchange, symbol)

	for {
		select {
		case t, ok := <-sub.Updates():
			if !ok {
				if err := sub.Err(); err != nil {
					log.Fatalf("stream ended: %v", err)
				}
				return
			}
			fmt.Printf("%s  last=%s bid=%s ask=%s vol=%s [%s]\n",
				t.Timestamp.Format(time.RFC3339), t.Last, t.Bid, t.Ask, t.Volume, t.Source)
		case <-ctx.Done():
			sub.Unsubscribe()
			for range sub.Updates() {
			}
			return
		}
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	fmt.Println(string(out))
}

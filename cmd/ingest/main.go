// The ingest command streams live price ticks from a WebSocket feed
// into the price store, batching writes and shielding the database
// behind a circuit breaker. The stored series is what paced sessions
// later replay.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/marketdata"
	"market-sim-lab/internal/resilience"
	"market-sim-lab/internal/storage"
	"market-sim-lab/internal/storage/memory"
	"market-sim-lab/internal/storage/migrations"
	pgstore "market-sim-lab/internal/storage/postgres"
)

func main() {
	wsEndpoint := flag.String("ws-endpoint", "", "WebSocket feed endpoint (required)")
	instruments := flag.String("instruments", "", "Comma-separated instrument symbols (required)")

	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	flushSize := flag.Int("flush-size", 100, "Ticks per bulk insert")
	flushInterval := flag.Duration("flush-interval", 5*time.Second, "Max delay before a partial batch flushes")

	flag.Parse()

	logger := log.New(os.Stderr, "[ingest] ", log.LstdFlags)

	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	symbols := splitSymbols(*instruments)
	if len(symbols) == 0 {
		logger.Fatal("--instruments is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	var prices storage.PriceStore = memory.NewPriceStore()
	if !*useMemory {
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required when not using --use-memory")
		}
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("apply migrations: %v", err)
		}
		prices = pgstore.NewPriceStore(pool)
	}

	feed, err := marketdata.NewFeed(ctx, *wsEndpoint, nil, logger, func() {
		logger.Printf("feed reconnected")
	})
	if err != nil {
		logger.Fatalf("connect feed: %v", err)
	}
	defer feed.Close()

	ticks := make(chan domain.PriceTick, 1024)
	for _, symbol := range symbols {
		sub, err := feed.Subscribe(ctx, symbol)
		if err != nil {
			logger.Fatalf("subscribe %s: %v", symbol, err)
		}
		go func() {
			for tick := range sub {
				select {
				case ticks <- tick:
				case <-ctx.Done():
					return
				}
			}
		}()
		logger.Printf("subscribed to %s", symbol)
	}

	breaker := resilience.NewBreaker[struct{}]("price-store", logger)
	flush := func(batch []*domain.PriceTick) {
		if len(batch) == 0 {
			return
		}
		_, err := breaker.Execute(func() (struct{}, error) {
			err := prices.InsertBulk(ctx, batch)
			if errors.Is(err, storage.ErrDuplicateKey) {
				// Replayed ticks after a reconnect; drop the batch.
				logger.Printf("dropping batch of %d ticks: duplicates", len(batch))
				return struct{}{}, nil
			}
			return struct{}{}, err
		})
		if err != nil {
			logger.Printf("flush %d ticks: %v", len(batch), err)
			return
		}
		logger.Printf("flushed %d ticks", len(batch))
	}

	var batch []*domain.PriceTick
	timer := time.NewTicker(*flushInterval)
	defer timer.Stop()

	for {
		select {
		case tick := <-ticks:
			t := tick
			batch = append(batch, &t)
			if len(batch) >= *flushSize {
				flush(batch)
				batch = nil
			}
		case <-timer.C:
			flush(batch)
			batch = nil
		case <-ctx.Done():
			flush(batch)
			return
		}
	}
}

func splitSymbols(s string) []string {
	var symbols []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			symbols = append(symbols, trimmed)
		}
	}
	return symbols
}

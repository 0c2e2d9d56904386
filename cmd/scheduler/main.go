// The scheduler command is the worker daemon: it claims PENDING runs
// through a distributed lease and executes them, so a fleet of workers
// can share one queue without running the same simulation twice.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"market-sim-lab/internal/engine"
	"market-sim-lab/internal/marketdata"
	"market-sim-lab/internal/observability"
	"market-sim-lab/internal/schedlock"
	"market-sim-lab/internal/scheduler"
	"market-sim-lab/internal/storage/migrations"
	pgstore "market-sim-lab/internal/storage/postgres"
	"market-sim-lab/internal/telemetry"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (required)")
	redisAddr := flag.String("redis-addr", "", "Redis address for leases and telemetry (optional; in-process lease otherwise)")
	redisChannel := flag.String("redis-channel", "simulation.events", "Redis pub/sub channel for telemetry")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	spreadBps := flag.Float64("spread-bps", 10, "Synthetic book spread")

	workerID := flag.String("worker-id", "", "Worker identity (generated when empty)")
	pollInterval := flag.Duration("poll-interval", 5*time.Second, "Delay between claim sweeps")
	leaseTTL := flag.Duration("lease-ttl", 60*time.Second, "Run lease TTL")
	leaseExtend := flag.Duration("lease-extend-every", 20*time.Second, "Lease extension cadence")
	maxConcurrent := flag.Int("max-concurrent", 4, "Max runs executing at once")

	flag.Parse()

	logger := log.New(os.Stderr, "[scheduler] ", log.LstdFlags)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}
	if *workerID == "" {
		*workerID = scheduler.NewWorkerID("worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, draining...", sig)
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("apply migrations: %v", err)
	}

	runs := pgstore.NewRunStore(pool)
	history := pgstore.NewOrderHistoryStore(pool)
	prices := pgstore.NewPriceStore(pool)

	metrics := observability.NewMetrics("")
	go func() {
		logger.Printf("serving metrics on %s/metrics", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, observability.Handler()); err != nil {
			logger.Printf("metrics server: %v", err)
		}
	}()

	var lock schedlock.Lock = schedlock.NewMemoryLock()
	var publisher telemetry.Publisher = telemetry.NewLogPublisher(logger)
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer client.Close()
		lock = schedlock.NewRedisLock(client, "simlock")
		publisher = telemetry.NewRedisPublisher(client, *redisChannel, logger, func() {
			metrics.TelemetryDropped.Inc()
		})
	} else {
		logger.Printf("no --redis-addr: using in-process leases, do not run multiple workers")
	}

	eng := engine.New(engine.Deps{
		Runs:      runs,
		History:   history,
		Series:    marketdata.NewStoreSeriesSource(prices),
		Books:     marketdata.NewSyntheticBookSource(*spreadBps),
		Telemetry: publisher,
		Metrics:   metrics,
		Logger:    logger,
	})

	sched := scheduler.New(runs, lock, eng, scheduler.Config{
		WorkerID:         *workerID,
		PollInterval:     *pollInterval,
		LeaseTTL:         *leaseTTL,
		LeaseExtendEvery: *leaseExtend,
		MaxConcurrent:    *maxConcurrent,
	}, logger, metrics)

	logger.Printf("worker %s polling for runs", *workerID)
	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("scheduler: %v", err)
	}
	logger.Printf("worker %s stopped", *workerID)
}

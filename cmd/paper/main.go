// The paper command runs a paced simulation session: the engine walks
// the stored series at tick-interval wall-clock pacing, publishing
// telemetry as it goes. The first interrupt signal requests a
// cooperative pause so the session can be resumed later; a second
// signal cancels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/engine"
	"market-sim-lab/internal/marketdata"
	"market-sim-lab/internal/observability"
	"market-sim-lab/internal/storage"
	"market-sim-lab/internal/storage/memory"
	"market-sim-lab/internal/storage/migrations"
	pgstore "market-sim-lab/internal/storage/postgres"
	"market-sim-lab/internal/telemetry"
)

func main() {
	// Session selection: either resume an existing run or start fresh.
	resumeRunID := flag.String("resume", "", "Resume a paused run by ID")

	instrumentSym := flag.String("instrument", "", "Instrument symbol (required unless --resume)")
	quoteCurrency := flag.String("quote", "USD", "Quote currency")
	startTS := flag.Int64("start-ms", 0, "Range start (epoch ms)")
	endTS := flag.Int64("end-ms", 0, "Range end (epoch ms)")
	intervalMs := flag.Int64("interval-ms", 1000, "Step and pacing interval (ms)")
	capital := flag.Float64("capital", 100000, "Initial capital")
	feeRate := flag.Float64("fee-rate", 0.0004, "Trading fee rate")
	seed := flag.Int64("seed", 1, "Deterministic RNG seed")
	noiseBps := flag.Float64("noise-bps", 5, "Slippage noise amplitude")
	spreadBps := flag.Float64("spread-bps", 10, "Synthetic book spread")
	checkpointEvery := flag.Int64("checkpoint-every", 60, "Steps between checkpoints")
	heartbeatEvery := flag.Int64("heartbeat-every", 10, "Steps between status re-reads")
	strategyID := flag.String("strategy", "", "Strategy: STEP_TRIGGER, SMA_CROSS, BUY_HOLD")
	params := flag.String("params", "", "Strategy parameters, e.g. fraction=0.9")

	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	redisAddr := flag.String("redis-addr", "", "Redis address for telemetry (optional)")
	redisChannel := flag.String("redis-channel", "simulation.events", "Redis pub/sub channel")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (optional)")

	flag.Parse()

	logger := log.New(os.Stderr, "[paper] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		runs    storage.RunStore          = memory.NewRunStore()
		history storage.OrderHistoryStore = memory.NewOrderHistoryStore()
		prices  storage.PriceStore        = memory.NewPriceStore()
	)
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
		runs = pgstore.NewRunStore(pool)
		history = pgstore.NewOrderHistoryStore(pool)
		prices = pgstore.NewPriceStore(pool)
	}

	metrics := observability.NewMetrics("")
	if *metricsAddr != "" {
		go func() {
			logger.Printf("serving metrics on %s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, observability.Handler()); err != nil {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	var publisher telemetry.Publisher = telemetry.NewLogPublisher(logger)
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer client.Close()
		publisher = telemetry.NewRedisPublisher(client, *redisChannel, logger, func() {
			metrics.TelemetryDropped.Inc()
		})
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
	svc := engine.NewService(eng, runs, logger)

	var (
		runID string
		err   error
	)
	if *resumeRunID != "" {
		runID = *resumeRunID
		err = svc.Resume(ctx, runID)
	} else {
		if *instrumentSym == "" || *strategyID == "" {
			logger.Fatal("--instrument and --strategy are required to start a session")
		}
		strategyParams, perr := parseParams(*params)
		if perr != nil {
			logger.Fatalf("invalid --params: %v", perr)
		}
		runID, err = svc.Start(ctx, domain.RunModePaced, domain.RunConfig{
			Instrument:       *instrumentSym,
			QuoteCurrency:    *quoteCurrency,
			StartTS:          *startTS,
			EndTS:            *endTS,
			TickIntervalMs:   *intervalMs,
			InitialCapital:   *capital,
			FeeRate:          *feeRate,
			Seed:             *seed,
			SlippageNoiseBps: *noiseBps,
			CheckpointEvery:  *checkpointEvery,
			HeartbeatEvery:   *heartbeatEvery,
			StrategyID:       strings.ToUpper(*strategyID),
			StrategyParams:   strategyParams,
		})
	}
	if err != nil {
		logger.Fatalf("launch session: %v", err)
	}
	logger.Printf("paced session %s running; SIGINT pauses, second SIGINT cancels", runID)

	// First signal pauses, second cancels.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("pause requested; next signal cancels")
		if err := svc.Pause(context.Background(), runID); err != nil {
			logger.Printf("request pause: %v", err)
		}
		<-sigCh
		logger.Printf("cancelling session")
		cancel()
	}()

	if err := svc.Wait(ctx, runID); err != nil {
		logger.Fatalf("wait for session: %v", err)
	}

	progress, err := svc.Progress(context.Background(), runID)
	if err != nil {
		logger.Fatalf("read progress: %v", err)
	}
	logger.Printf("session %s ended %s after %d/%d steps",
		runID, progress.Status, progress.ProcessedSteps, progress.TotalSteps)
	if progress.Status == domain.RunStatusPaused {
		logger.Printf("resume with: paper --resume %s --postgres-dsn ...", runID)
	}
}

// parseParams parses "k=v,k=v" into strategy parameters.
func parseParams(s string) (map[string]float64, error) {
	params := make(map[string]float64)
	if s == "" {
		return params, nil
	}
	for _, pair := range strings.Split(s, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("expected k=v, got %q", pair)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		params[strings.TrimSpace(key)] = f
	}
	return params, nil
}

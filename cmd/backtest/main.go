package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/engine"
	"market-sim-lab/internal/instrument"
	"market-sim-lab/internal/marketdata"
	"market-sim-lab/internal/storage"
	"market-sim-lab/internal/storage/memory"
	"market-sim-lab/internal/storage/migrations"
	pgstore "market-sim-lab/internal/storage/postgres"
)

func main() {
	// Run parameters
	instrumentSym := flag.String("instrument", "", "Instrument symbol, e.g. BTC-USD (required)")
	quoteCurrency := flag.String("quote", "USD", "Quote currency")
	startTS := flag.String("start", "", "Range start: RFC3339 or epoch ms (required)")
	endTS := flag.String("end", "", "Range end: RFC3339 or epoch ms (required)")
	intervalMs := flag.Int64("interval-ms", 60000, "Step interval (ms)")
	capital := flag.Float64("capital", 100000, "Initial capital in quote currency")
	feeRate := flag.Float64("fee-rate", 0.0004, "Trading fee rate")
	seed := flag.Int64("seed", 1, "Deterministic RNG seed")

	// Slippage
	maxSlippageBps := flag.Float64("max-slippage-bps", 0, "Reject orders above this slippage (0 disables)")
	warnSlippageBps := flag.Float64("warn-slippage-bps", 0, "Warn on orders above this slippage (0 disables)")
	noiseBps := flag.Float64("noise-bps", 0, "Slippage noise amplitude (0 disables)")
	spreadBps := flag.Float64("spread-bps", 10, "Synthetic book spread when no live book source")

	// Checkpointing
	checkpointEvery := flag.Int64("checkpoint-every", 1000, "Steps between checkpoints")

	// Strategy
	strategyID := flag.String("strategy", "", "Strategy: STEP_TRIGGER, SMA_CROSS, BUY_HOLD (required)")
	params := flag.String("params", "", "Strategy parameters, e.g. fast_window=5,slow_window=20,quantity=0.5")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	ticksCSV := flag.String("ticks-csv", "", "Load price ticks from CSV (ts_ms,price) before running")

	// Output
	outputJSON := flag.Bool("json", false, "Output final metrics as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	if *instrumentSym == "" {
		logger.Fatal("--instrument is required")
	}
	if *strategyID == "" {
		logger.Fatal("--strategy is required")
	}
	start, err := parseTimestamp(*startTS)
	if err != nil {
		logger.Fatalf("invalid --start: %v", err)
	}
	end, err := parseTimestamp(*endTS)
	if err != nil {
		logger.Fatalf("invalid --end: %v", err)
	}

	strategyParams, err := parseParams(*params)
	if err != nil {
		logger.Fatalf("invalid --params: %v", err)
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

	if *ticksCSV != "" {
		n, err := loadTicksCSV(ctx, prices, *instrumentSym, *ticksCSV)
		if err != nil {
			logger.Fatalf("load ticks from %s: %v", *ticksCSV, err)
		}
		logger.Printf("loaded %d ticks from %s", n, *ticksCSV)
	}

	// Resolve the instrument before creating the run so coverage
	// problems surface as a CLI error, not a failed run.
	coverage, err := instrument.NewResolver(prices).Resolve(ctx, *instrumentSym, start, end, *intervalMs)
	if err != nil {
		logger.Fatalf("resolve instrument: %v", err)
	}
	for _, w := range coverage.Warnings {
		logger.Printf("warning: %s", w)
	}

	eng := engine.New(engine.Deps{
		Runs:    runs,
		History: history,
		Series:  marketdata.NewStoreSeriesSource(prices),
		Books:   marketdata.NewSyntheticBookSource(*spreadBps),
		Logger:  logger,
	})
	svc := engine.NewService(eng, runs, logger)

	cfg := domain.RunConfig{
		Instrument:       *instrumentSym,
		QuoteCurrency:    *quoteCurrency,
		StartTS:          start,
		EndTS:            end,
		TickIntervalMs:   *intervalMs,
		InitialCapital:   *capital,
		FeeRate:          *feeRate,
		Seed:             *seed,
		MaxSlippageBps:   *maxSlippageBps,
		WarnSlippageBps:  *warnSlippageBps,
		SlippageNoiseBps: *noiseBps,
		CheckpointEvery:  *checkpointEvery,
		StrategyID:       strings.ToUpper(*strategyID),
		StrategyParams:   strategyParams,
	}

	runID, err := svc.Start(ctx, domain.RunModeBatch, cfg)
	if err != nil {
		logger.Fatalf("start run: %v", err)
	}
	logger.Printf("running backtest %s: instrument=%s strategy=%s steps over [%d, %d]",
		runID, cfg.Instrument, cfg.StrategyID, start, end)

	if err := svc.Wait(ctx, runID); err != nil {
		logger.Fatalf("wait for run: %v", err)
	}

	progress, err := svc.Progress(ctx, runID)
	if err != nil {
		logger.Fatalf("read progress: %v", err)
	}
	if progress.Status != domain.RunStatusCompleted {
		logger.Fatalf("run %s ended %s: %s", runID, progress.Status, progress.StatusNote)
	}

	metrics, err := svc.Result(ctx, runID)
	if err != nil {
		logger.Fatalf("read result: %v", err)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(metrics, "", "  ")
		fmt.Println(string(output))
	} else {
		printMetrics(runID, progress, metrics)
	}
}

// parseTimestamp accepts epoch milliseconds or RFC3339.
func parseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("not epoch ms or RFC3339: %q", s)
	}
	return t.UnixMilli(), nil
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

// loadTicksCSV loads ts_ms,price rows for one instrument.
func loadTicksCSV(ctx context.Context, prices storage.PriceStore, symbol, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("parse csv: %w", err)
	}

	var ticks []*domain.PriceTick
	for i, rec := range records {
		if len(rec) < 2 {
			return 0, fmt.Errorf("row %d: expected ts_ms,price", i+1)
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return 0, fmt.Errorf("row %d: bad timestamp: %w", i+1, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return 0, fmt.Errorf("row %d: bad price: %w", i+1, err)
		}
		ticks = append(ticks, &domain.PriceTick{Instrument: symbol, TSMs: ts, Price: price})
	}

	if err := prices.InsertBulk(ctx, ticks); err != nil {
		return 0, err
	}
	return len(ticks), nil
}

// printMetrics outputs a human-readable result.
func printMetrics(runID string, progress engine.Progress, m *domain.FinalMetrics) {
	fmt.Println()
	fmt.Println("=== Backtest Result ===")
	fmt.Printf("Run ID:             %s\n", runID)
	fmt.Printf("Steps:              %d\n", progress.TotalSteps)
	if len(progress.Warnings) > 0 {
		fmt.Printf("Warnings:           %s\n", strings.Join(progress.Warnings, ", "))
	}
	fmt.Println()
	fmt.Printf("Final Equity:       %.2f\n", m.FinalEquity)
	fmt.Printf("Total Return:       %.2f%%\n", m.TotalReturn*100)
	fmt.Printf("Annualized Return:  %.2f%%\n", m.AnnualizedReturn*100)
	fmt.Printf("Sharpe Ratio:       %.3f\n", m.SharpeRatio)
	fmt.Printf("Max Drawdown:       %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("Trades:             %d (%d wins, %.1f%% win rate)\n",
		m.TradeCount, m.WinCount, m.WinRate*100)
}

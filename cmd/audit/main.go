// The audit command inspects simulation runs after the fact: it prints
// a run's lifecycle audit trail, replays completed runs to verify they
// are reproducible, renders Markdown and CSV reports, and can mirror
// completed runs into the ClickHouse analytics tables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"market-sim-lab/internal/analytics"
	"market-sim-lab/internal/marketdata"
	"market-sim-lab/internal/reporting"
	chstore "market-sim-lab/internal/storage/clickhouse"
	"market-sim-lab/internal/storage/migrations"
	pgstore "market-sim-lab/internal/storage/postgres"
	"market-sim-lab/internal/verification"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (required)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (required for --mirror)")
	runID := flag.String("run-id", "", "Inspect one run")
	verify := flag.Bool("verify", false, "Replay completed runs and compare against persisted outputs")
	spreadBps := flag.Float64("spread-bps", 10, "Synthetic book spread the runs executed with (for --verify)")
	mirror := flag.Bool("mirror", false, "Mirror completed runs into ClickHouse")
	summarize := flag.Bool("summarize", false, "Print mirrored equity curve summaries")
	report := flag.Bool("report", false, "Print a Markdown report over completed runs")
	tradesCSV := flag.Bool("trades-csv", false, "Print one run's trades as CSV (requires --run-id)")

	flag.Parse()

	logger := log.New(os.Stderr, "[audit] ", log.LstdFlags)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}
	if *runID == "" && !*verify && !*mirror && !*summarize && !*report {
		logger.Fatal("nothing to do: pass --run-id, --verify, --mirror, --summarize or --report")
	}
	if *tradesCSV && *runID == "" {
		logger.Fatal("--trades-csv requires --run-id")
	}

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	runs := pgstore.NewRunStore(pool)
	history := pgstore.NewOrderHistoryStore(pool)

	var conn *chstore.Conn
	if *mirror || *summarize {
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required for --mirror / --summarize")
		}
		conn, err = migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()
	}

	if *runID != "" {
		if *tradesCSV {
			trades, err := runs.ListTrades(ctx, *runID)
			if err != nil {
				logger.Fatalf("list trades for %s: %v", *runID, err)
			}
			fmt.Print(reporting.RenderTradesCSV(trades))
		} else if err := inspectRun(ctx, runs, history, *runID); err != nil {
			logger.Fatalf("inspect run %s: %v", *runID, err)
		}
	}

	if *report {
		r, err := reporting.NewGenerator(runs, history).Generate(ctx)
		if err != nil {
			logger.Fatalf("generate report: %v", err)
		}
		fmt.Print(reporting.RenderMarkdown(r))
	}

	if *verify {
		verifier := verification.NewReplayVerifier(verification.Options{
			Runs:   runs,
			Series: marketdata.NewStoreSeriesSource(pgstore.NewPriceStore(pool)),
			Books:  marketdata.NewSyntheticBookSource(*spreadBps),
			Logger: logger,
		})
		if *runID != "" {
			result, err := verifier.VerifyRun(ctx, *runID)
			if err != nil {
				logger.Fatalf("verify run %s: %v", *runID, err)
			}
			printVerification(result)
		} else {
			report, err := verifier.VerifyAll(ctx)
			if err != nil {
				logger.Fatalf("verify completed runs: %v", err)
			}
			fmt.Println()
			fmt.Println("=== Verification ===")
			fmt.Printf("Runs:      %d\n", report.TotalRuns)
			fmt.Printf("Matched:   %d\n", report.MatchedRuns)
			fmt.Printf("Divergent: %d\n", report.DivergentRuns)
			for _, result := range report.Results {
				if !result.Match {
					printVerification(result)
				}
			}
			if report.DivergentRuns > 0 {
				os.Exit(1)
			}
		}
	}

	if *mirror {
		m := analytics.NewMirror(runs, history,
			chstore.NewOrderTransitionStore(conn),
			chstore.NewEquityTimeseriesStore(conn),
			logger)
		mirrored, err := m.MirrorCompleted(ctx)
		if err != nil {
			logger.Fatalf("mirror completed runs: %v", err)
		}
		logger.Printf("mirrored %d completed runs", mirrored)
	}

	if *summarize {
		summaries, err := chstore.NewEquityTimeseriesStore(conn).Summarize(ctx)
		if err != nil {
			logger.Fatalf("summarize equity curves: %v", err)
		}
		fmt.Println()
		fmt.Println("=== Equity Curve Summaries ===")
		for _, s := range summaries {
			fmt.Printf("%-40s steps=%-8d final=%-12.2f peak=%-12.2f maxdd=%.2f%%\n",
				s.RunID, s.Steps, s.FinalEquity, s.PeakEquity, s.MaxDrawdown*100)
		}
	}
}

// inspectRun prints one run's state and lifecycle audit trail.
func inspectRun(ctx context.Context, runs *pgstore.RunStore, history *pgstore.OrderHistoryStore, runID string) error {
	run, err := runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("=== Run ===")
	fmt.Printf("Run ID:        %s\n", run.RunID)
	fmt.Printf("Mode:          %s\n", run.Mode)
	fmt.Printf("Status:        %s", run.Status)
	if run.StatusNote != "" {
		fmt.Printf(" (%s)", run.StatusNote)
	}
	fmt.Println()
	fmt.Printf("Instrument:    %s\n", run.Config.Instrument)
	fmt.Printf("Strategy:      %s\n", run.Config.StrategyID)
	fmt.Printf("Created:       %s\n", time.UnixMilli(run.CreatedAtMs).Format(time.RFC3339))
	fmt.Printf("Total Steps:   %d\n", run.TotalSteps)
	if run.Checkpoint != nil {
		fmt.Printf("Checkpoint:    step %d, counts %+v\n",
			run.Checkpoint.LastProcessedIndex, run.Checkpoint.PersistedCounts)
	}
	if len(run.Warnings) > 0 {
		fmt.Printf("Warnings:      %s\n", strings.Join(run.Warnings, ", "))
	}
	if run.Metrics != nil {
		m := run.Metrics
		fmt.Printf("Final Equity:  %.2f (return %.2f%%, maxdd %.2f%%, %d trades)\n",
			m.FinalEquity, m.TotalReturn*100, m.MaxDrawdown*100, m.TradeCount)
	}

	counts, err := history.CountByReason(ctx, runID, 0, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		fmt.Println()
		fmt.Println("Transitions by reason:")
		for _, c := range counts {
			fmt.Printf("  %-22s %d\n", c.Reason, c.Count)
		}
	}

	invalid, err := history.ListInvalid(ctx, runID)
	if err != nil {
		return err
	}
	if len(invalid) > 0 {
		fmt.Println()
		fmt.Printf("Invalid transitions (%d):\n", len(invalid))
		for _, tr := range invalid {
			fmt.Printf("  %s %s -> %s (%s) at %s\n",
				tr.OrderID, orDash(string(tr.FromStatus)), tr.ToStatus, tr.Reason,
				time.UnixMilli(tr.TSMs).Format(time.RFC3339))
		}
	}

	return nil
}

func printVerification(result verification.RunResult) {
	fmt.Println()
	if result.Match {
		fmt.Printf("run %s: replay matches persisted outputs\n", result.RunID)
		return
	}
	fmt.Printf("run %s: %d divergent fields\n", result.RunID, len(result.Divergences))
	for _, d := range result.Divergences {
		fmt.Printf("  %-28s expected=%v actual=%v\n", d.Field, d.Expected, d.Actual)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

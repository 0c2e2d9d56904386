// Package engine implements the execution loop: a deterministic,
// checkpointable walk over a price series that turns strategy signals
// into simulated fills, trades and performance snapshots.
//
// The same step algorithm serves both run modes. BATCH processes the
// range as fast as storage allows; PACED sleeps between steps to track
// wall-clock time and honors cooperative pause and cancel signals at
// step boundaries. Mode changes pacing and pause handling only, never
// the numbers a step produces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"market-sim-lab/internal/checkpoint"
	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/lifecycle"
	"market-sim-lab/internal/marketdata"
	"market-sim-lab/internal/observability"
	"market-sim-lab/internal/perf"
	"market-sim-lab/internal/portfolio"
	"market-sim-lab/internal/resilience"
	"market-sim-lab/internal/rng"
	"market-sim-lab/internal/slippage"
	"market-sim-lab/internal/storage"
	"market-sim-lab/internal/strategy"
	"market-sim-lab/internal/telemetry"
)

// ErrNotRunnable is returned when Run is called on a run in a terminal
// status.
var ErrNotRunnable = errors.New("run is not in a runnable status")

// Warning flags accumulated on a run.
const warnHighSlippage = "HIGH_SLIPPAGE"

// Sleeper paces the loop between steps. Injected so paced-mode tests
// run without wall-clock delays.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Deps bundles everything the engine needs. Runs, History and Series
// are required; the rest defaults to no-op or synthetic
// implementations when nil.
type Deps struct {
	Runs    storage.RunStore
	History storage.OrderHistoryStore
	Series  marketdata.SeriesSource
	Books   marketdata.BookSource

	Telemetry telemetry.Publisher
	Metrics   *observability.Metrics
	Logger    *log.Logger
	Sleeper   Sleeper

	Retry resilience.RetryConfig
	NowMs func() int64
}

// Engine executes simulation runs.
type Engine struct {
	runs    storage.RunStore
	history storage.OrderHistoryStore
	series  marketdata.SeriesSource
	books   marketdata.BookSource

	telemetry telemetry.Publisher
	metrics   *observability.Metrics
	logger    *log.Logger
	sleeper   Sleeper

	checkpoints *checkpoint.Manager
	retry       resilience.RetryConfig
	nowMs       func() int64
}

// New creates an engine.
func New(deps Deps) *Engine {
	e := &Engine{
		runs:      deps.Runs,
		history:   deps.History,
		series:    deps.Series,
		books:     deps.Books,
		telemetry: deps.Telemetry,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		sleeper:   deps.Sleeper,
		retry:     deps.Retry,
		nowMs:     deps.NowMs,
	}
	if e.books == nil {
		e.books = marketdata.NewSyntheticBookSource(0)
	}
	if e.telemetry == nil {
		e.telemetry = telemetry.NopPublisher{}
	}
	if e.sleeper == nil {
		e.sleeper = realSleeper{}
	}
	if e.retry == (resilience.RetryConfig{}) {
		e.retry = resilience.DefaultRetryConfig()
	}
	if e.nowMs == nil {
		e.nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	e.checkpoints = checkpoint.NewManager(deps.Runs, deps.Logger)
	return e
}

// runState is the in-memory execution state of one run. It exists only
// between a checkpoint and the next; everything needed to rebuild it
// lives in the checkpoint.
type runState struct {
	run   *domain.SimulationRun
	ticks []*domain.PriceTick

	gen      *rng.RNG
	port     *portfolio.Portfolio
	buf      *checkpoint.Buffer
	model    *slippage.Model
	strat    strategy.Strategy
	recorder *lifecycle.Recorder

	history    []float64
	peakEquity float64
	startIndex int64
	orderSeq   int64
	warnedSlip bool
}

// Run executes a run to a terminal status or a pause. Accepts PENDING
// and PAUSED runs, plus RUNNING ones for crash recovery: a worker that
// died mid-run leaves status RUNNING behind, and the scheduler hands
// the run to a new worker once the old lease expires.
func (e *Engine) Run(ctx context.Context, runID string) error {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if domain.IsTerminalRunStatus(run.Status) {
		return fmt.Errorf("%w: %s is %s", ErrNotRunnable, runID, run.Status)
	}

	st, err := e.prepare(ctx, run)
	if err != nil {
		return e.fail(ctx, runID, err)
	}

	if err := e.runs.UpdateStatus(ctx, runID, domain.RunStatusRunning, "executing"); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ActiveRuns.Inc()
		defer e.metrics.ActiveRuns.Dec()
	}

	eventType := telemetry.EventRunStarted
	if st.startIndex > 0 {
		eventType = telemetry.EventRunResumed
	}
	e.telemetry.Publish(ctx, telemetry.Event{
		RunID: runID, Type: eventType, StepIndex: st.startIndex, TSMs: e.nowMs(),
	})

	return e.loop(ctx, st)
}

// prepare loads the series and rebuilds execution state, from the
// checkpoint when one exists, from the config otherwise.
func (e *Engine) prepare(ctx context.Context, run *domain.SimulationRun) (*runState, error) {
	cfg := run.Config

	strat, err := strategy.FromParams(cfg.StrategyID, cfg.StrategyParams)
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}

	ticks, err := e.series.Series(ctx, cfg.Instrument, cfg.StartTS, cfg.EndTS)
	if err != nil {
		return nil, err
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("empty price series for %s in [%d, %d]", cfg.Instrument, cfg.StartTS, cfg.EndTS)
	}
	if err := e.runs.SetTotalSteps(ctx, run.RunID, int64(len(ticks))); err != nil {
		return nil, fmt.Errorf("set total steps: %w", err)
	}

	st := &runState{
		run:        run,
		ticks:      ticks,
		strat:      strat,
		recorder:   lifecycle.NewRecorder(e.history, e.logger),
		peakEquity: cfg.InitialCapital,
	}

	if run.Checkpoint != nil {
		if err := e.resume(ctx, st, run.Checkpoint); err != nil {
			return nil, err
		}
	} else {
		st.gen = rng.New(cfg.Seed)
		st.port = portfolio.New(cfg.QuoteCurrency, cfg.InitialCapital)
		st.buf = checkpoint.NewBuffer(domain.OutputCounts{})
	}

	st.model = slippage.New(slippage.Config{
		MaxBps:   cfg.MaxSlippageBps,
		WarnBps:  cfg.WarnSlippageBps,
		NoiseBps: cfg.SlippageNoiseBps,
	}, st.gen)

	st.history = make([]float64, 0, len(ticks))
	for i := int64(0); i < st.startIndex; i++ {
		st.history = append(st.history, ticks[i].Price)
	}
	return st, nil
}

// resume rebuilds state from a checkpoint: orphan rows beyond the
// recorded counts are deleted, then the RNG and portfolio pick up
// exactly where the checkpoint froze them.
func (e *Engine) resume(ctx context.Context, st *runState, cp *domain.Checkpoint) error {
	deleted, err := e.checkpoints.Reconcile(ctx, st.run.RunID, cp)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ResumesTotal.Inc()
		e.metrics.OrphanRowsDeleted.Add(float64(deleted))
	}
	if deleted > 0 && e.logger != nil {
		e.logger.Printf("run %s: deleted %d orphan rows during resume", st.run.RunID, deleted)
	}

	st.gen, err = rng.FromState(cp.RNGState)
	if err != nil {
		return fmt.Errorf("restore rng: %w", err)
	}
	st.port = portfolio.FromState(cp.Portfolio)
	st.buf = checkpoint.NewBuffer(cp.PersistedCounts)
	st.startIndex = cp.LastProcessedIndex + 1
	st.orderSeq = cp.PersistedCounts.Signals

	// The drawdown peak is derived state: recover it from persisted
	// snapshots so per-step drawdown matches an uninterrupted run.
	snaps, err := e.runs.ListSnapshots(ctx, st.run.RunID)
	if err != nil {
		return fmt.Errorf("recover peak equity: %w", err)
	}
	for _, s := range snaps {
		if s.Equity > st.peakEquity {
			st.peakEquity = s.Equity
		}
	}
	return nil
}

// loop walks the series from the resume point to the end, or to a
// pause or cancel boundary.
func (e *Engine) loop(ctx context.Context, st *runState) error {
	cfg := st.run.Config
	runID := st.run.RunID
	total := int64(len(st.ticks))
	paced := st.run.Mode == domain.RunModePaced

	for i := st.startIndex; i < total; i++ {
		stepStart := time.Now()

		if err := e.step(ctx, st, i); err != nil {
			return e.fail(ctx, runID, err)
		}

		if e.metrics != nil {
			e.metrics.StepsProcessed.WithLabelValues(string(st.run.Mode)).Inc()
			e.metrics.StepDuration.Observe(time.Since(stepStart).Seconds())
		}

		// Checkpoint cadence is keyed to the absolute step index so a
		// resumed run commits at the same boundaries the uninterrupted
		// run would have.
		if cfg.CheckpointEvery > 0 && (i+1)%cfg.CheckpointEvery == 0 && i != total-1 {
			if err := e.commit(ctx, st, i); err != nil {
				return e.fail(ctx, runID, err)
			}
		}

		if paced {
			stop, err := e.pacedBoundary(ctx, st, i, total)
			if stop || err != nil {
				return err
			}
		} else if ctx.Err() != nil {
			return e.cancel(ctx, st, i)
		}
	}

	return e.complete(ctx, st, total)
}

// pacedBoundary runs the end-of-step protocol for PACED mode: the
// cooperative pause check, the heartbeat status re-read, cancellation,
// then the pacing sleep. stop=true means the run ended in a
// non-failure, non-complete state (paused or externally cancelled).
func (e *Engine) pacedBoundary(ctx context.Context, st *runState, i, total int64) (stop bool, err error) {
	cfg := st.run.Config
	runID := st.run.RunID

	if ctx.Err() != nil {
		return true, e.cancel(ctx, st, i)
	}

	fresh, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return true, e.fail(ctx, runID, fmt.Errorf("read run at step boundary: %w", err))
	}

	// The stored status is authoritative: an operator may have
	// cancelled the run out from under this worker. The re-read is a
	// soft liveness probe on the heartbeat cadence, not a per-step
	// check.
	if cfg.HeartbeatEvery > 0 && (i+1)%cfg.HeartbeatEvery == 0 && domain.IsTerminalRunStatus(fresh.Status) {
		if e.metrics != nil {
			e.metrics.HeartbeatAborts.Inc()
		}
		if e.logger != nil {
			e.logger.Printf("run %s: stopping, status is %s", runID, fresh.Status)
		}
		if err := e.commit(ctx, st, i); err != nil && e.logger != nil {
			e.logger.Printf("run %s: checkpoint on abort failed: %v", runID, err)
		}
		return true, nil
	}

	// The pause flag is cooperative and honored at every step boundary.
	if fresh.PauseRequested {
		return true, e.pause(ctx, st, i)
	}

	if i < total-1 && cfg.TickIntervalMs > 0 {
		if err := e.sleeper.Sleep(ctx, time.Duration(cfg.TickIntervalMs)*time.Millisecond); err != nil {
			return true, e.cancel(ctx, st, i)
		}
	}
	return false, nil
}

// step processes one tick: evaluate the strategy, price and settle its
// signals, and snapshot the portfolio.
func (e *Engine) step(ctx context.Context, st *runState, i int64) error {
	cfg := st.run.Config
	tick := st.ticks[i]
	st.history = append(st.history, tick.Price)

	signals := st.strat.Evaluate(strategy.Input{
		StepIndex: i,
		Price:     tick.Price,
		History:   st.history,
		Cash:      st.port.Cash(),
		Position:  st.port.Position(cfg.Instrument),
	})

	for _, sig := range signals {
		if err := e.processSignal(ctx, st, i, tick, sig); err != nil {
			return err
		}
	}

	equity := st.port.Equity(map[string]float64{cfg.Instrument: tick.Price})
	if equity > st.peakEquity {
		st.peakEquity = equity
	}
	drawdown := 0.0
	if st.peakEquity > 0 {
		drawdown = (st.peakEquity - equity) / st.peakEquity
	}
	exposure := 0.0
	if cfg.InitialCapital > 0 {
		exposure = (equity - st.port.Cash()) / cfg.InitialCapital
	}

	st.buf.AddSnapshot(&domain.PerformanceSnapshot{
		RunID:     st.run.RunID,
		StepIndex: i,
		Equity:    equity,
		Cash:      st.port.Cash(),
		Exposure:  exposure,
		Drawdown:  drawdown,
		TSMs:      tick.TSMs,
	})
	return nil
}

// processSignal prices one signal against the book and settles it.
// Rejections (slippage limit, balance) record the order's terminal
// REJECTED transition but never fail the step.
func (e *Engine) processSignal(ctx context.Context, st *runState, i int64, tick *domain.PriceTick, sig domain.Signal) error {
	cfg := st.run.Config
	runID := st.run.RunID

	st.orderSeq++
	orderID := fmt.Sprintf("%s-ord-%06d", runID, st.orderSeq)

	st.buf.AddSignal(&domain.SignalRecord{
		RunID:      runID,
		StepIndex:  i,
		Instrument: cfg.Instrument,
		Side:       sig.Side,
		Quantity:   sig.Quantity,
		Price:      tick.Price,
		Reason:     sig.Reason,
		TSMs:       tick.TSMs,
	})
	if e.metrics != nil {
		e.metrics.SignalsEmitted.Inc()
	}

	if err := e.transition(ctx, st, runID, orderID, domain.OrderStatusNew, domain.TransitionReasonCreated, nil, tick.TSMs); err != nil {
		return err
	}

	book, err := e.books.Book(ctx, cfg.Instrument, tick.Price)
	if err != nil {
		// Depth is an enhancement, not a dependency: execute at the
		// reference price instead of failing the step.
		if e.metrics != nil {
			e.metrics.BookFetchErrors.Inc()
		}
		if e.logger != nil {
			e.logger.Printf("run %s step %d: book fetch failed, executing without depth: %v", runID, i, err)
		}
		book = nil
	}

	res := st.model.Execute(sig.Side, sig.Quantity, tick.Price, book)

	if st.model.Exceeds(res) {
		meta := map[string]string{"slippage_bps": fmt.Sprintf("%.2f", res.SlippageBps)}
		if e.metrics != nil {
			e.metrics.OrdersRejected.WithLabelValues(domain.TransitionReasonSlippageLimit).Inc()
		}
		return e.transition(ctx, st, runID, orderID, domain.OrderStatusRejected, domain.TransitionReasonSlippageLimit, meta, tick.TSMs)
	}

	fee := res.ExecutedPrice * sig.Quantity * cfg.FeeRate

	var applyErr error
	switch sig.Side {
	case domain.SideBuy:
		applyErr = st.port.ApplyBuy(cfg.Instrument, sig.Quantity, res.ExecutedPrice, fee)
	case domain.SideSell:
		_, applyErr = st.port.ApplySell(cfg.Instrument, sig.Quantity, res.ExecutedPrice, fee)
	default:
		applyErr = fmt.Errorf("unknown side %q", sig.Side)
	}
	if applyErr != nil {
		if errors.Is(applyErr, portfolio.ErrInsufficientCash) || errors.Is(applyErr, portfolio.ErrInsufficientPosition) {
			if e.metrics != nil {
				e.metrics.OrdersRejected.WithLabelValues(domain.TransitionReasonInsufficient).Inc()
			}
			return e.transition(ctx, st, runID, orderID, domain.OrderStatusRejected, domain.TransitionReasonInsufficient, nil, tick.TSMs)
		}
		return applyErr
	}

	if st.model.ShouldWarn(res) {
		if e.logger != nil {
			e.logger.Printf("WARN: run %s step %d: slippage %.1f bps exceeds warn threshold", runID, i, res.SlippageBps)
		}
		if !st.warnedSlip {
			st.warnedSlip = true
			if err := e.runs.AppendWarning(ctx, runID, warnHighSlippage); err != nil && e.logger != nil {
				e.logger.Printf("run %s: append warning: %v", runID, err)
			}
		}
	}

	st.buf.AddFill(&domain.FillRecord{
		RunID:          runID,
		StepIndex:      i,
		OrderID:        orderID,
		Instrument:     cfg.Instrument,
		Side:           sig.Side,
		Quantity:       sig.Quantity,
		RequestedPrice: tick.Price,
		ExecutedPrice:  res.ExecutedPrice,
		SlippageBps:    res.SlippageBps,
		Fee:            fee,
		TSMs:           tick.TSMs,
	})
	st.buf.AddTrade(&domain.TradeRecord{
		RunID:      runID,
		StepIndex:  i,
		TradeID:    orderID + "-t",
		OrderID:    orderID,
		Instrument: cfg.Instrument,
		Side:       sig.Side,
		Quantity:   sig.Quantity,
		Price:      res.ExecutedPrice,
		Notional:   sig.Quantity * res.ExecutedPrice,
		Fee:        fee,
		CashAfter:  st.port.Cash(),
		TSMs:       tick.TSMs,
	})

	if e.metrics != nil {
		e.metrics.FillsSimulated.Inc()
		e.metrics.SlippageBpsAbs.Observe(res.AbsBps())
	}

	return e.transition(ctx, st, runID, orderID, domain.OrderStatusFilled, domain.TransitionReasonSimulatedFill, nil, tick.TSMs)
}

// transition records an order status move and the Prometheus counters
// that track it. Rows are stamped with the tick timestamp so the audit
// trail is reproducible.
func (e *Engine) transition(ctx context.Context, st *runState, runID, orderID string, to domain.OrderStatus, reason string, meta map[string]string, tsMs int64) error {
	tr, err := st.recorder.Transition(ctx, runID, orderID, to, reason, meta, tsMs)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	if e.metrics != nil {
		e.metrics.TransitionsRecorded.WithLabelValues(reason).Inc()
		if !tr.Valid {
			e.metrics.InvalidTransitions.Inc()
		}
	}
	return nil
}

// commit flushes the buffer and checkpoint, retrying transient storage
// failures under the configured policy.
func (e *Engine) commit(ctx context.Context, st *runState, lastIndex int64) error {
	start := time.Now()
	err := resilience.Retry(ctx, e.retry, func() error {
		return e.checkpoints.Commit(ctx, st.run.RunID, st.buf, lastIndex, st.port.State(), st.gen.State())
	})
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if e.metrics != nil {
		e.metrics.CheckpointsCommitted.Inc()
		e.metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	}
	e.telemetry.Publish(ctx, telemetry.Event{
		RunID: st.run.RunID, Type: telemetry.EventCheckpoint, StepIndex: lastIndex, TSMs: e.nowMs(),
	})
	return nil
}

// pause commits the current position and parks the run in PAUSED.
func (e *Engine) pause(ctx context.Context, st *runState, lastIndex int64) error {
	runID := st.run.RunID
	if err := e.commit(ctx, st, lastIndex); err != nil {
		return e.fail(ctx, runID, err)
	}
	if err := e.runs.SetPauseRequested(ctx, runID, false); err != nil {
		return e.fail(ctx, runID, fmt.Errorf("clear pause flag: %w", err))
	}
	if err := e.runs.UpdateStatus(ctx, runID, domain.RunStatusPaused, fmt.Sprintf("paused at step %d", lastIndex)); err != nil {
		return e.fail(ctx, runID, fmt.Errorf("mark paused: %w", err))
	}
	e.telemetry.Publish(ctx, telemetry.Event{
		RunID: runID, Type: telemetry.EventRunPaused, StepIndex: lastIndex, TSMs: e.nowMs(),
	})
	if e.logger != nil {
		e.logger.Printf("run %s paused at step %d", runID, lastIndex)
	}
	return nil
}

// cancel commits the current position and marks the run CANCELLED.
// The commit runs on a detached context: the cancellation that stops
// the loop must not also stop the final write.
func (e *Engine) cancel(ctx context.Context, st *runState, lastIndex int64) error {
	runID := st.run.RunID
	detached := context.WithoutCancel(ctx)

	if err := e.commit(detached, st, lastIndex); err != nil && e.logger != nil {
		e.logger.Printf("run %s: checkpoint on cancel failed: %v", runID, err)
	}
	if err := e.runs.UpdateStatus(detached, runID, domain.RunStatusCancelled, fmt.Sprintf("cancelled at step %d", lastIndex)); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RunsTotal.WithLabelValues(string(domain.RunStatusCancelled)).Inc()
	}
	e.telemetry.Publish(detached, telemetry.Event{
		RunID: runID, Type: telemetry.EventRunCancelled, StepIndex: lastIndex, TSMs: e.nowMs(),
	})
	return ctx.Err()
}

// complete commits the last checkpoint, computes final metrics from
// the fully persisted outputs, and writes the terminal result.
func (e *Engine) complete(ctx context.Context, st *runState, total int64) error {
	runID := st.run.RunID

	if err := e.commit(ctx, st, total-1); err != nil {
		return e.fail(ctx, runID, err)
	}

	metrics, err := e.finalMetrics(ctx, st)
	if err != nil {
		return e.fail(ctx, runID, err)
	}

	err = resilience.Retry(ctx, e.retry, func() error {
		return e.checkpoints.Complete(ctx, runID, st.buf, metrics)
	})
	if err != nil {
		return e.fail(ctx, runID, fmt.Errorf("finalize: %w", err))
	}

	if e.metrics != nil {
		e.metrics.RunsTotal.WithLabelValues(string(domain.RunStatusCompleted)).Inc()
	}
	e.telemetry.Publish(ctx, telemetry.Event{
		RunID: runID, Type: telemetry.EventRunCompleted, StepIndex: total - 1,
		Equity: metrics.FinalEquity, TSMs: e.nowMs(),
	})
	if e.logger != nil {
		e.logger.Printf("run %s completed: equity=%.2f return=%.4f trades=%d",
			runID, metrics.FinalEquity, metrics.TotalReturn, metrics.TradeCount)
	}
	return nil
}

// finalMetrics derives the terminal metrics from persisted snapshots
// and trades, so a resumed run and an uninterrupted one compute the
// same numbers.
func (e *Engine) finalMetrics(ctx context.Context, st *runState) (*domain.FinalMetrics, error) {
	runID := st.run.RunID
	cfg := st.run.Config

	snaps, err := e.runs.ListSnapshots(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	trades, err := e.runs.ListTrades(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}

	equity := make([]float64, 0, len(snaps)+1)
	equity = append(equity, cfg.InitialCapital)
	for _, s := range snaps {
		equity = append(equity, s.Equity)
	}

	m := perf.Compute(perf.Input{
		InitialCapital: cfg.InitialCapital,
		EquitySeries:   equity,
		Realized:       realizedProfits(trades),
		StartTSMs:      st.ticks[0].TSMs,
		EndTSMs:        st.ticks[len(st.ticks)-1].TSMs,
	})
	return &m, nil
}

// realizedProfits replays the trade list through average-cost
// accounting, yielding the realized profit of each sell.
func realizedProfits(trades []*domain.TradeRecord) []float64 {
	var (
		qty, avgCost float64
		realized     []float64
	)
	for _, t := range trades {
		switch t.Side {
		case domain.SideBuy:
			total := qty + t.Quantity
			avgCost = (avgCost*qty + t.Price*t.Quantity) / total
			qty = total
		case domain.SideSell:
			realized = append(realized, (t.Price-avgCost)*t.Quantity-t.Fee)
			qty -= t.Quantity
		}
	}
	return realized
}

// fail marks the run FAILED with the cause and returns the original
// error.
func (e *Engine) fail(ctx context.Context, runID string, cause error) error {
	detached := context.WithoutCancel(ctx)
	if err := e.runs.UpdateStatus(detached, runID, domain.RunStatusFailed, cause.Error()); err != nil && e.logger != nil {
		e.logger.Printf("run %s: marking failed: %v", runID, err)
	}
	if e.metrics != nil {
		e.metrics.RunsTotal.WithLabelValues(string(domain.RunStatusFailed)).Inc()
	}
	e.telemetry.Publish(detached, telemetry.Event{
		RunID: runID, Type: telemetry.EventRunFailed, Note: cause.Error(), TSMs: e.nowMs(),
	})
	if e.logger != nil {
		e.logger.Printf("run %s failed: %v", runID, cause)
	}
	return cause
}

package domain

// RunMode selects pacing behavior for a simulation run.
// Mode changes pacing and pause handling only, never the step algorithm.
type RunMode string

// Run mode constants.
const (
	// RunModeBatch processes the full time range without pacing or pause checks.
	RunModeBatch RunMode = "BATCH"
	// RunModePaced sleeps between steps to track wall-clock time and honors
	// cooperative pause/cancel signals at step boundaries.
	RunModePaced RunMode = "PACED"
)

// RunStatus is the lifecycle status of a simulation run.
type RunStatus string

// Run status constants.
const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusPaused    RunStatus = "PAUSED"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminalRunStatus reports whether a run status admits no further transitions.
func IsTerminalRunStatus(s RunStatus) bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// RunConfig holds the immutable parameters of a simulation run.
type RunConfig struct {
	Instrument    string // dataset instrument symbol (resolved at startup)
	QuoteCurrency string // designated quote currency, e.g. "USD"

	StartTS        int64 // inclusive range start (ms)
	EndTS          int64 // inclusive range end (ms)
	TickIntervalMs int64 // spacing between steps; also the pacing interval in PACED mode

	InitialCapital float64 // starting quote balance
	FeeRate        float64 // trading fee rate, e.g. 0.0004 = 4 bps

	Seed int64 // deterministic RNG seed

	MaxSlippageBps   float64 // pre-trade rejection threshold (signed bps)
	WarnSlippageBps  float64 // warn-and-proceed threshold (signed bps)
	SlippageNoiseBps float64 // amplitude of modeled slippage noise, 0 disables

	CheckpointEvery int64 // steps between checkpoint units
	HeartbeatEvery  int64 // steps between authoritative status re-reads (PACED)

	StrategyID     string             // opaque strategy identifier
	StrategyParams map[string]float64 // strategy-specific parameters
}

// SimulationRun identifies one engine execution.
// Owned exclusively by the execution loop for the duration of the run;
// terminal once status reaches COMPLETED, FAILED or CANCELLED.
type SimulationRun struct {
	RunID      string
	Mode       RunMode
	Status     RunStatus
	StatusNote string // human-readable progress / failure cause

	Config RunConfig

	// Checkpoint is non-nil only while the run is resumable mid-range.
	// Cleared on successful completion so a later failure is not
	// mistaken for a resumable state.
	Checkpoint *Checkpoint

	// PauseRequested is the cooperative pause flag observed at step
	// boundaries in PACED mode.
	PauseRequested bool

	// TotalSteps is set by the engine once the price series is loaded.
	TotalSteps int64

	Warnings []string // accumulated warning flags

	// Metrics is non-nil only after a COMPLETED terminal write.
	Metrics *FinalMetrics

	CreatedAtMs int64
	UpdatedAtMs int64
}

// Package perf computes final performance metrics for a completed run
// from its equity series and closed trades.
package perf

import (
	"math"

	"market-sim-lab/internal/domain"
)

const (
	msPerDay    = 86_400_000.0
	daysPerYear = 365.0
)

// Input is everything metric computation needs. EquitySeries is the
// chronological per-step equity including the initial capital at index
// zero; Realized holds the realized profit of each closed trade in
// chronological order.
type Input struct {
	InitialCapital float64
	EquitySeries   []float64
	Realized       []float64
	StartTSMs      int64
	EndTSMs        int64
}

// Compute derives the final metrics. Degenerate inputs (no steps, zero
// capital, zero-length window) produce zero-valued fields rather than
// NaN or Inf.
func Compute(in Input) domain.FinalMetrics {
	m := domain.FinalMetrics{TradeCount: len(in.Realized)}

	if len(in.EquitySeries) == 0 || in.InitialCapital <= 0 {
		return m
	}
	m.FinalEquity = in.EquitySeries[len(in.EquitySeries)-1]
	m.TotalReturn = m.FinalEquity/in.InitialCapital - 1
	m.AnnualizedReturn = annualize(m.TotalReturn, in.StartTSMs, in.EndTSMs)
	m.MaxDrawdown = maxDrawdown(in.EquitySeries)
	m.SharpeRatio = sharpe(stepReturns(in.EquitySeries), in.StartTSMs, in.EndTSMs, len(in.EquitySeries)-1)

	for _, r := range in.Realized {
		if r > 0 {
			m.WinCount++
		}
	}
	if m.TradeCount > 0 {
		m.WinRate = float64(m.WinCount) / float64(m.TradeCount)
	}
	return m
}

// annualize scales a total return to a 365-day year by geometric
// compounding over the simulated window.
func annualize(totalReturn float64, startMs, endMs int64) float64 {
	days := float64(endMs-startMs) / msPerDay
	if days <= 0 || totalReturn <= -1 {
		return 0
	}
	return math.Pow(1+totalReturn, daysPerYear/days) - 1
}

// stepReturns converts the equity series to simple per-step returns,
// skipping steps where the prior equity is non-positive.
func stepReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	return returns
}

// sharpe is mean/stddev of per-step returns scaled by the square root
// of steps per year. Zero when the deviation vanishes (a flat series
// has no meaningful risk-adjusted return).
func sharpe(returns []float64, startMs, endMs int64, steps int) float64 {
	if len(returns) < 2 || steps <= 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	sumSq := 0.0
	for _, r := range returns {
		diff := r - mean
		sumSq += diff * diff
	}
	stddev := math.Sqrt(sumSq / float64(len(returns)-1))
	if stddev == 0 {
		return 0
	}

	days := float64(endMs-startMs) / msPerDay
	if days <= 0 {
		return 0
	}
	stepsPerYear := float64(steps) / days * daysPerYear
	return mean / stddev * math.Sqrt(stepsPerYear)
}

// maxDrawdown is the worst peak-to-trough equity decline as a fraction
// of the peak.
func maxDrawdown(equity []float64) float64 {
	peak := 0.0
	worst := 0.0
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (peak - eq) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Simulation Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Completed runs: %d\n\n", r.RunCount))

	sb.WriteString("## Runs\n\n")
	if len(r.Runs) > 0 {
		sb.WriteString("| Run | Mode | Instrument | Strategy | Steps | Equity | Return | Annualized | Sharpe | MaxDD | Trades | WinRate | Warnings |\n")
		sb.WriteString("|-----|------|------------|----------|-------|--------|--------|------------|--------|-------|--------|---------|----------|\n")
		for _, row := range r.Runs {
			warnings := "-"
			if len(row.Warnings) > 0 {
				warnings = strings.Join(row.Warnings, ", ")
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %.2f | %.2f%% | %.2f%% | %.3f | %.2f%% | %d | %.1f%% | %s |\n",
				row.RunID, row.Mode, row.Instrument, row.StrategyID, row.TotalSteps,
				row.FinalEquity, row.TotalReturn*100, row.AnnualizedReturn*100,
				row.SharpeRatio, row.MaxDrawdown*100, row.TradeCount, row.WinRate*100,
				warnings))
		}
	} else {
		sb.WriteString("No completed runs.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Order Rejections\n\n")
	if len(r.Rejections) > 0 {
		sb.WriteString("| Run | Reason | Count |\n")
		sb.WriteString("|-----|--------|-------|\n")
		for _, row := range r.Rejections {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d |\n", row.RunID, row.Reason, row.Count))
		}
	} else {
		sb.WriteString("No rejections recorded.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

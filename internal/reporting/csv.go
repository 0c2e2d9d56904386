package reporting

import (
	"fmt"
	"strings"

	"market-sim-lab/internal/domain"
)

// RenderRunsCSV renders run summary rows as a CSV string.
func RenderRunsCSV(rows []RunRow) string {
	var sb strings.Builder

	sb.WriteString("run_id,mode,instrument,strategy_id,total_steps,")
	sb.WriteString("final_equity,total_return,annualized_return,sharpe_ratio,max_drawdown,")
	sb.WriteString("trade_count,win_rate\n")

	for _, row := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%d,%.6f\n",
			row.RunID,
			row.Mode,
			row.Instrument,
			row.StrategyID,
			row.TotalSteps,
			row.FinalEquity,
			row.TotalReturn,
			row.AnnualizedReturn,
			row.SharpeRatio,
			row.MaxDrawdown,
			row.TradeCount,
			row.WinRate,
		))
	}

	return sb.String()
}

// RenderTradesCSV renders one run's trade list as a CSV string.
func RenderTradesCSV(trades []*domain.TradeRecord) string {
	var sb strings.Builder

	sb.WriteString("trade_id,order_id,step_index,instrument,side,quantity,price,notional,fee,cash_after,ts_ms\n")

	for _, t := range trades {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%s,%s,%.8f,%.8f,%.8f,%.8f,%.8f,%d\n",
			t.TradeID,
			t.OrderID,
			t.StepIndex,
			t.Instrument,
			t.Side,
			t.Quantity,
			t.Price,
			t.Notional,
			t.Fee,
			t.CashAfter,
			t.TSMs,
		))
	}

	return sb.String()
}

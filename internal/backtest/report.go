package backtest

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"quant-trade-bot-go/internal/position"
)

// EquityPoint is one sample of the running equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Report is the immutable result of one simulation run.
type Report struct {
	RunID         string                 `json:"run_id"`
	Symbol        string                 `json:"symbol"`
	Strategy      string                 `json:"strategy"`
	BarCount      int                    `json:"bar_count"`
	InitialEquity float64                `json:"initial_equity"`
	FinalEquity   float64                `json:"final_equity"`
	TotalReturn   float64                `json:"total_return"`
	SharpeRatio   float64                `json:"sharpe_ratio"`
	MaxDrawdown   float64                `json:"max_drawdown"`
	WinRate       float64                `json:"win_rate"`
	TradeCount    int                    `json:"trade_count"`
	EquityCurve   []EquityPoint          `json:"equity_curve"`
	Trades        []position.ClosedTrade `json:"trades"`
}

// WriteJSON serializes the report, with per-trade detail, to a file.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// periodicReturns converts the equity curve into per-bar fractional returns.
func periodicReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// sharpeRatio is mean(returns)/stddev(returns) scaled by the square root of
// the annualization factor. Population standard deviation; zero deviation
// defines the ratio as 0.
func sharpeRatio(returns []float64, annualization float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(annualization)
}

// maxDrawdown is the largest peak-to-trough fractional decline of the curve.
func maxDrawdown(curve []EquityPoint) float64 {
	peak := 0.0
	worst := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// winRate is the fraction of closed trades with positive realized P&L, 0 when
// no trades closed.
func winRate(trades []position.ClosedTrade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

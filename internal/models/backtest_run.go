package models

import "gorm.io/gorm"

// BacktestRun is the persisted summary of one backtest simulation.
type BacktestRun struct {
	gorm.Model
	RunID       string  `json:"run_id" gorm:"uniqueIndex"`
	Symbol      string  `json:"symbol"`
	Strategy    string  `json:"strategy"`
	BarCount    int     `json:"bar_count"`
	TotalReturn float64 `json:"total_return"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
	TradeCount  int     `json:"trade_count"`
	ReportPath  string  `json:"report_path"`
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Trade represents a completed round-trip trade record in the database.
type Trade struct {
	gorm.Model
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"` // "LONG" or "SHORT"
	Quantity     float64   `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	EntryTime    time.Time `json:"entry_time"`
	ExitTime     time.Time `json:"exit_time"`
	RealizedPnL  float64   `json:"realized_pnl"`
	ExitReason   string    `json:"exit_reason"`
	IsSimulation bool      `json:"is_simulation"`
}

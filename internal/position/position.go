package position

import (
	"time"

	"quant-trade-bot-go/internal/market"
)

// Status of a tracked position.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosing Status = "CLOSING"
	StatusClosed  Status = "CLOSED"
)

// SymbolState is the per-symbol lifecycle state machine value.
type SymbolState string

const (
	StateNone         SymbolState = "NONE"
	StatePendingEntry SymbolState = "PENDING_ENTRY"
	StateOpen         SymbolState = "OPEN"
	StatePendingExit  SymbolState = "PENDING_EXIT"
)

// Position is an open holding for one symbol. Only the lifecycle manager
// mutates it; callers receive copies.
type Position struct {
	Symbol          string           `json:"symbol"`
	Direction       market.Direction `json:"direction"`
	EntryPrice      float64          `json:"entry_price"`
	Quantity        float64          `json:"quantity"`
	Leverage        float64          `json:"leverage"`
	StopPrice       float64          `json:"stop_price"`
	TakeProfitPrice float64          `json:"take_profit_price"`
	OpenedAt        time.Time        `json:"opened_at"`
	Status          Status           `json:"status"`
}

// Margin is the equity the position ties up.
func (p Position) Margin() float64 {
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return p.EntryPrice * p.Quantity / lev
}

// UnrealizedPnL marks the position to the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Direction == market.Short {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// StopBreached reports whether the given price has crossed the stop.
func (p Position) StopBreached(price float64) bool {
	if p.StopPrice <= 0 {
		return false
	}
	if p.Direction == market.Short {
		return price >= p.StopPrice
	}
	return price <= p.StopPrice
}

// TargetReached reports whether the given price has crossed the take-profit.
func (p Position) TargetReached(price float64) bool {
	if p.TakeProfitPrice <= 0 {
		return false
	}
	if p.Direction == market.Short {
		return price <= p.TakeProfitPrice
	}
	return price >= p.TakeProfitPrice
}

// ClosedTrade is the realized outcome of a position's full round trip.
type ClosedTrade struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
}

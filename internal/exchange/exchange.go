// Package exchange defines the trading-venue capability the core depends on,
// plus a Binance USDT-margined futures implementation. ErrUnavailable means
// "unknown outcome": the caller must reconcile on the next cycle rather than
// assume the order was or was not placed. ErrRejected is a definitive no.
package exchange

import (
	"context"
	"errors"
	"time"

	"quant-trade-bot-go/internal/market"
)

var (
	// ErrUnavailable covers transport failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("exchange unavailable")

	// ErrRejected covers well-formed requests the exchange refused.
	ErrRejected = errors.New("exchange rejected request")
)

// Side of an order.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types.
const (
	TypeMarket = "MARKET"
	TypeStop   = "STOP"
	TypeLimit  = "LIMIT"
)

// Order statuses as the lifecycle manager tracks them.
const (
	StatusPending   = "PENDING"
	StatusFilled    = "FILLED"
	StatusCancelled = "CANCELLED"
	StatusRejected  = "REJECTED"
)

// Order is a request to the exchange. ID is a client-generated uuid; the
// exchange echoes its own id in the result.
type Order struct {
	ID       string
	Symbol   string
	Side     string
	Type     string
	Quantity float64
	Price    float64 // stop or limit price, unused for MARKET
}

// OrderResult is the exchange's answer to a submitted order.
type OrderResult struct {
	OrderID     string
	Status      string
	FilledQty   float64
	AvgPrice    float64
	SubmittedAt time.Time
}

// PositionInfo is an exchange-reported open position, used for
// reconciliation against local state.
type PositionInfo struct {
	Symbol     string
	Direction  market.Direction
	Quantity   float64
	EntryPrice float64
	Leverage   float64
}

// Exchange is the venue capability consumed by the engine and the lifecycle
// manager. All calls honor the context deadline; a deadline hit surfaces as
// ErrUnavailable.
type Exchange interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.PriceBar, error)
	SubmitOrder(ctx context.Context, order Order) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOpenPositions(ctx context.Context) ([]PositionInfo, error)
	GetAccountEquity(ctx context.Context) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

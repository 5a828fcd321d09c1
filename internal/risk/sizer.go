// Package risk converts actionable signals into bounded position sizes.
package risk

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"quant-trade-bot-go/internal/config"
	"quant-trade-bot-go/internal/market"
)

var (
	// ErrInvalidSignal is returned when sizing is requested for a signal
	// that is not actionable (FLAT direction or a non-positive entry price).
	ErrInvalidSignal = errors.New("signal not sizable")

	// ErrRiskLimitExceeded is returned when the computed margin breaches the
	// symbol's maximum allocation or the account's free margin, or when the
	// quantity rounds down to nothing. Sizes are rejected, never clamped.
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")
)

// Decision is the immutable output of sizing a signal.
type Decision struct {
	Symbol         string
	Quantity       float64
	Leverage       float64
	MarginRequired float64
	RiskAmount     float64
}

// Sizer applies fixed-fractional or ATR-unit sizing to signals.
type Sizer struct {
	logger *zap.Logger
}

// NewSizer creates a position sizer.
func NewSizer(logger *zap.Logger) *Sizer {
	return &Sizer{logger: logger}
}

// Size converts a signal plus an equity snapshot into a position size.
// entryPrice is the price the entry is expected to fill near (latest close);
// freeMargin is the portion of equity not already committed to open
// positions. When the signal carries a stop, sizing is ATR-unit based: the
// stop distance is the ATR multiple, so quantity = riskAmount / stopDistance
// risks exactly riskAmount at the stop. Without a stop, sizing falls back to
// the fixed equity fraction with leverage.
func (s *Sizer) Size(sig market.Signal, equity, freeMargin, entryPrice float64, cfg config.SymbolConfig) (Decision, error) {
	if !sig.Actionable() {
		return Decision{}, fmt.Errorf("%w: direction %s for %s", ErrInvalidSignal, sig.Direction, sig.Symbol)
	}
	if entryPrice <= 0 {
		return Decision{}, fmt.Errorf("%w: non-positive entry price %.8f for %s", ErrInvalidSignal, entryPrice, sig.Symbol)
	}

	leverage := cfg.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	riskAmount := equity * cfg.RiskFraction

	var quantity float64
	stopDistance := math.Abs(entryPrice - sig.StopPrice)
	if sig.StopPrice > 0 && stopDistance > 0 && cfg.RiskFraction > 0 {
		// ATR-unit sizing: stopDistance = ATRMultiple × ATR.
		quantity = riskAmount / stopDistance
	} else {
		quantity = equity * cfg.PositionSizeFraction * leverage / entryPrice
	}

	quantity = roundToLot(quantity, cfg.MinLotSize)
	if quantity <= 0 {
		return Decision{}, fmt.Errorf("%w: quantity rounds to zero at lot size %.8f for %s",
			ErrRiskLimitExceeded, cfg.MinLotSize, sig.Symbol)
	}

	margin := quantity * entryPrice / leverage
	if cfg.MaxAllocation > 0 && margin > cfg.MaxAllocation*equity {
		return Decision{}, fmt.Errorf("%w: margin %.2f exceeds max allocation %.2f for %s",
			ErrRiskLimitExceeded, margin, cfg.MaxAllocation*equity, sig.Symbol)
	}
	if margin > freeMargin {
		return Decision{}, fmt.Errorf("%w: margin %.2f exceeds free margin %.2f for %s",
			ErrRiskLimitExceeded, margin, freeMargin, sig.Symbol)
	}

	s.logger.Debug("sized signal",
		zap.String("symbol", sig.Symbol),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("quantity", quantity),
		zap.Float64("margin", margin),
		zap.Float64("risk_amount", riskAmount))

	return Decision{
		Symbol:         sig.Symbol,
		Quantity:       quantity,
		Leverage:       leverage,
		MarginRequired: margin,
		RiskAmount:     riskAmount,
	}, nil
}

// roundToLot floors a quantity to the exchange's lot step. A zero step keeps
// the raw quantity.
func roundToLot(quantity, lot float64) float64 {
	if lot <= 0 {
		return quantity
	}
	return math.Floor(quantity/lot) * lot
}

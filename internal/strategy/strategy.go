// Package strategy implements the signal-generating strategies. Each strategy
// is a pure function of (window, state): the caller owns the State and passes
// it back on the next call, which is how crossovers and breakouts are detected
// without re-walking full history.
package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"quant-trade-bot-go/internal/market"
)

// State is the caller-owned strategy memory. PrevDirection is the direction
// of the last actionable signal the strategy emitted (its current stance);
// the MA fields cache the previous bar's averages for crossover detection.
type State struct {
	PrevDirection market.Direction
	PrevShortMA   float64
	PrevLongMA    float64
	HasPrevMA     bool
}

// NewState returns the initial state for a fresh symbol.
func NewState() State {
	return State{PrevDirection: market.Flat}
}

// Strategy evaluates a window of price bars into a trading signal.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Evaluate inspects the window and returns a signal plus the updated
	// state. Identical (window, state) inputs always yield identical
	// outputs. A window shorter than the strategy's lookback fails with
	// indicator.ErrInsufficientData.
	Evaluate(symbol string, window []market.PriceBar, st State) (market.Signal, State, error)
}

const (
	NameTrendFollowing = "trend_following"
	NameMeanReversion  = "mean_reversion"
	NameTurtle         = "turtle"
)

// New builds a strategy by name with the given parameter bundle. Unknown
// parameters are ignored; missing ones fall back to the strategy defaults.
func New(name string, params map[string]float64, logger *zap.Logger) (Strategy, error) {
	switch name {
	case NameTrendFollowing:
		return NewTrendFollowing(params, logger), nil
	case NameMeanReversion:
		return NewMeanReversion(params, logger), nil
	case NameTurtle:
		return NewTurtle(params, logger), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok && v != 0 {
		return v
	}
	return def
}

// flat builds the no-action signal shared by all strategies.
func flat(symbol string, window []market.PriceBar, reason string) market.Signal {
	return market.Signal{
		Symbol:      symbol,
		Direction:   market.Flat,
		GeneratedAt: window[len(window)-1].Timestamp,
		Reason:      reason,
	}
}

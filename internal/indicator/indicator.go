// Package indicator provides stateless technical indicator functions over
// ordered price series. Every function validates its lookback against the
// input length and fails with ErrInsufficientData instead of returning a
// misleading value.
//
// Numeric conventions, fixed for the whole package: moving averages are
// simple arithmetic means, ATR smooths true ranges with a simple N-period
// mean, and standard deviation is the population form. Anything that layers
// on top of these (Bollinger Bands, the backtest Sharpe ratio) inherits the
// same conventions.
package indicator

import (
	"errors"
	"fmt"
	"math"
)

// ErrInsufficientData is returned when a series is shorter than the lookback
// an indicator needs. Callers match it with errors.Is and skip evaluation for
// that cycle.
var ErrInsufficientData = errors.New("insufficient data for indicator")

func requireLen(name string, got, need int) error {
	if got < need {
		return fmt.Errorf("%w: %s needs %d bars, got %d", ErrInsufficientData, name, need, got)
	}
	return nil
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

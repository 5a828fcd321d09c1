package market

import (
	"fmt"
	"time"
)

// PriceBar is a single OHLCV candle. Bars are immutable once recorded.
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Direction is the side a signal or position points to.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Flat  Direction = "FLAT"
)

// Opposite returns the mirrored direction. Flat stays flat.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	}
	return Flat
}

// Signal is the immutable output of a strategy evaluation. A FLAT direction
// means "no action"; stop and take-profit prices are only meaningful for
// LONG/SHORT signals. Exit marks an actionable signal that should only close
// an open position in the opposite direction, never open a new one.
type Signal struct {
	Symbol          string
	Direction       Direction
	Strength        float64
	StopPrice       float64
	TakeProfitPrice float64
	GeneratedAt     time.Time
	Reason          string
	Exit            bool
}

// Actionable reports whether the signal calls for a trade.
func (s Signal) Actionable() bool {
	return s.Direction == Long || s.Direction == Short
}

// ValidateSeries checks that bars are ordered by strictly increasing
// timestamp with no duplicates.
func ValidateSeries(bars []PriceBar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("price series not strictly ordered at index %d: %s !> %s",
				i, bars[i].Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Closes extracts the close prices of a bar series.
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

package indicator

import (
	"math"

	"quant-trade-bot-go/internal/market"
)

// TrueRange returns the true range of bar relative to the previous close:
// max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(bar market.PriceBar, prevClose float64) float64 {
	tr := bar.High - bar.Low
	if v := math.Abs(bar.High - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(bar.Low - prevClose); v > tr {
		tr = v
	}
	return tr
}

// ATR returns the Average True Range over the trailing period bars, smoothed
// with a simple mean. The bar before the window supplies the first previous
// close, so period+1 bars are required.
func ATR(bars []market.PriceBar, period int) (float64, error) {
	if err := requireLen("ATR", len(bars), period+1); err != nil {
		return 0, err
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += TrueRange(bars[i], bars[i-1].Close)
	}
	return sum / float64(period), nil
}

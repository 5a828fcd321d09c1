package indicator

import "quant-trade-bot-go/internal/market"

// Channel is a Donchian channel snapshot.
type Channel struct {
	Upper float64
	Lower float64
}

// Donchian returns the rolling max high and min low over the trailing period
// bars, including the most recent bar.
func Donchian(bars []market.PriceBar, period int) (Channel, error) {
	if err := requireLen("Donchian", len(bars), period); err != nil {
		return Channel{}, err
	}
	window := bars[len(bars)-period:]
	ch := Channel{Upper: window[0].High, Lower: window[0].Low}
	for _, b := range window[1:] {
		if b.High > ch.Upper {
			ch.Upper = b.High
		}
		if b.Low < ch.Lower {
			ch.Lower = b.Low
		}
	}
	return ch, nil
}

// DonchianPrior computes the channel over the period bars preceding the most
// recent bar. Breakout checks compare the current close against this channel
// so the bar being evaluated cannot contribute to its own breakout level.
func DonchianPrior(bars []market.PriceBar, period int) (Channel, error) {
	if err := requireLen("Donchian", len(bars), period+1); err != nil {
		return Channel{}, err
	}
	return Donchian(bars[:len(bars)-1], period)
}

package indicator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quant-trade-bot-go/internal/market"
)

func barsFrom(ohlc [][4]float64) []market.PriceBar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.PriceBar, len(ohlc))
	for i, v := range ohlc {
		bars[i] = market.PriceBar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
			Volume:    1000,
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	sma, err := SMA(values, 3)
	assert.NoError(t, err)
	assert.InDelta(t, 4.0, sma, 1e-9) // mean(3,4,5)

	sma, err = SMA(values, 5)
	assert.NoError(t, err)
	assert.InDelta(t, 3.0, sma, 1e-9)
}

func TestSMA_InsufficientData(t *testing.T) {
	_, err := SMA([]float64{1, 2, 3}, 4)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestEMA(t *testing.T) {
	// Seeded with SMA(1,2,3)=2, alpha=0.5: 2 -> 3 -> 4.
	ema, err := EMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.NoError(t, err)
	assert.InDelta(t, 4.0, ema, 1e-9)
}

func TestMomentum(t *testing.T) {
	m, err := Momentum([]float64{100, 101, 102, 105}, 3)
	assert.NoError(t, err)
	assert.InDelta(t, 5.0, m, 1e-9)

	_, err = Momentum([]float64{100, 105}, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTrueRange(t *testing.T) {
	bar := market.PriceBar{High: 105, Low: 100, Close: 102}

	// Plain high-low dominates when prev close is inside the range.
	assert.InDelta(t, 5.0, TrueRange(bar, 103), 1e-9)
	// Gap up: |low - prevClose| dominates.
	assert.InDelta(t, 10.0, TrueRange(bar, 90), 1e-9)
	// Gap down: |high - prevClose| is irrelevant, low-prevClose wins.
	assert.InDelta(t, 10.0, TrueRange(bar, 110), 1e-9)
}

func TestATR(t *testing.T) {
	// Constant 5-point ranges with no gaps: ATR equals 5 for any period.
	bars := barsFrom([][4]float64{
		{100, 105, 100, 102},
		{102, 107, 102, 104},
		{104, 109, 104, 106},
		{106, 111, 106, 108},
	})
	atr, err := ATR(bars, 3)
	assert.NoError(t, err)
	assert.InDelta(t, 5.0, atr, 1e-9)

	_, err = ATR(bars, 4) // needs period+1 bars
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestBollinger(t *testing.T) {
	// Window {8,10,12}: mean=10, population stddev=sqrt(8/3).
	b, err := Bollinger([]float64{1, 8, 10, 12}, 3, 2.0)
	assert.NoError(t, err)
	assert.InDelta(t, 10.0, b.Middle, 1e-9)
	assert.InDelta(t, 10.0+2*1.632993161, b.Upper, 1e-6)
	assert.InDelta(t, 10.0-2*1.632993161, b.Lower, 1e-6)
}

func TestBollinger_FlatSeries(t *testing.T) {
	b, err := Bollinger([]float64{5, 5, 5, 5}, 4, 2.0)
	assert.NoError(t, err)
	assert.Equal(t, b.Middle, b.Upper)
	assert.Equal(t, b.Middle, b.Lower)
}

func TestRSI_Bounds(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	down := []float64{8, 7, 6, 5, 4, 3, 2, 1}
	flat := []float64{5, 5, 5, 5, 5, 5, 5, 5}

	rsi, err := RSI(up, 7)
	assert.NoError(t, err)
	assert.Equal(t, 100.0, rsi)

	rsi, err = RSI(down, 7)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, rsi)

	rsi, err = RSI(flat, 7)
	assert.NoError(t, err)
	assert.Equal(t, 50.0, rsi)
}

func TestRSI_Mixed(t *testing.T) {
	// Alternating equal gains and losses settle near the midline.
	values := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10}
	rsi, err := RSI(values, 14)
	assert.NoError(t, err)
	assert.Greater(t, rsi, 0.0)
	assert.Less(t, rsi, 100.0)
}

func TestRSI_InsufficientData(t *testing.T) {
	// A 5-bar window cannot feed a 14-period RSI.
	_, err := RSI([]float64{1, 2, 3, 4, 5}, 14)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDonchian(t *testing.T) {
	bars := barsFrom([][4]float64{
		{100, 110, 95, 105},
		{105, 120, 100, 115},
		{115, 118, 108, 110},
	})

	ch, err := Donchian(bars, 3)
	assert.NoError(t, err)
	assert.Equal(t, 120.0, ch.Upper)
	assert.Equal(t, 95.0, ch.Lower)

	// Prior channel excludes the last bar.
	prior, err := DonchianPrior(bars[1:], 2)
	assert.ErrorIs(t, err, ErrInsufficientData)
	_ = prior

	prior, err = DonchianPrior(bars, 2)
	assert.NoError(t, err)
	assert.Equal(t, 120.0, prior.Upper)
	assert.Equal(t, 95.0, prior.Lower)
}

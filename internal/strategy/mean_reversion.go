package strategy

import (
	"math"

	"go.uber.org/zap"

	"quant-trade-bot-go/internal/indicator"
	"quant-trade-bot-go/internal/market"
)

// MeanReversion fades moves outside the Bollinger Bands when RSI confirms an
// extreme: LONG below the lower band with RSI oversold, SHORT above the upper
// band with RSI overbought. The position is unwound once price reverts within
// a tolerance of the moving average; the take-profit at the band middle
// covers the same exit when the manager sees the breach first.
type MeanReversion struct {
	period        int
	bandMultiple  float64
	oversold      float64
	overbought    float64
	revertTol     float64 // fraction of the MA price
	stopATRPeriod int
	stopMultiple  float64
	logger        *zap.Logger
}

// NewMeanReversion builds the strategy. Recognized params: period (default
// 20), band_multiple (default 2), rsi_oversold (default 30), rsi_overbought
// (default 70), revert_tolerance (default 0.002), atr_period (default =
// period), stop_multiple (default 2).
func NewMeanReversion(params map[string]float64, logger *zap.Logger) *MeanReversion {
	period := int(param(params, "period", 20))
	return &MeanReversion{
		period:        period,
		bandMultiple:  param(params, "band_multiple", 2),
		oversold:      param(params, "rsi_oversold", 30),
		overbought:    param(params, "rsi_overbought", 70),
		revertTol:     param(params, "revert_tolerance", 0.002),
		stopATRPeriod: int(param(params, "atr_period", float64(period))),
		stopMultiple:  param(params, "stop_multiple", 2),
		logger:        logger,
	}
}

func (s *MeanReversion) Name() string { return NameMeanReversion }

// Lookback returns the minimum window length the strategy needs.
func (s *MeanReversion) Lookback() int {
	n := s.period + 1 // RSI needs one extra bar for the first delta
	if a := s.stopATRPeriod + 1; a > n {
		n = a
	}
	return n
}

func (s *MeanReversion) Evaluate(symbol string, window []market.PriceBar, st State) (market.Signal, State, error) {
	closes := market.Closes(window)

	bands, err := indicator.Bollinger(closes, s.period, s.bandMultiple)
	if err != nil {
		return market.Signal{}, st, err
	}
	rsi, err := indicator.RSI(closes, s.period)
	if err != nil {
		return market.Signal{}, st, err
	}
	atr, err := indicator.ATR(window, s.stopATRPeriod)
	if err != nil {
		return market.Signal{}, st, err
	}

	close := closes[len(closes)-1]
	ts := window[len(window)-1].Timestamp
	next := st

	// Unwind first: once price is back near the mean the reversion has
	// played out, whatever the bands say now.
	if st.PrevDirection == market.Long || st.PrevDirection == market.Short {
		if math.Abs(close-bands.Middle) <= s.revertTol*bands.Middle {
			exitDir := st.PrevDirection.Opposite()
			next.PrevDirection = market.Flat
			return market.Signal{
				Symbol:      symbol,
				Direction:   exitDir,
				GeneratedAt: ts,
				Reason:      "price reverted to moving average",
				Exit:        true,
			}, next, nil
		}
	}

	longCond := close < bands.Lower && rsi < s.oversold
	shortCond := close > bands.Upper && rsi > s.overbought

	switch {
	case longCond && shortCond:
		// Only reachable with an inverted band multiplier.
		s.logger.Warn("contradictory band conditions, emitting FLAT",
			zap.String("symbol", symbol),
			zap.Float64("close", close),
			zap.Float64("upper", bands.Upper),
			zap.Float64("lower", bands.Lower))
		return flat(symbol, window, "ambiguous band breach"), next, nil
	case longCond:
		next.PrevDirection = market.Long
		return market.Signal{
			Symbol:          symbol,
			Direction:       market.Long,
			Strength:        (s.oversold - rsi) / s.oversold,
			StopPrice:       close - atr*s.stopMultiple,
			TakeProfitPrice: bands.Middle,
			GeneratedAt:     ts,
			Reason:          "close below lower band with RSI oversold",
		}, next, nil
	case shortCond:
		next.PrevDirection = market.Short
		return market.Signal{
			Symbol:          symbol,
			Direction:       market.Short,
			Strength:        (rsi - s.overbought) / (100 - s.overbought),
			StopPrice:       close + atr*s.stopMultiple,
			TakeProfitPrice: bands.Middle,
			GeneratedAt:     ts,
			Reason:          "close above upper band with RSI overbought",
		}, next, nil
	}

	return flat(symbol, window, "price within bands"), next, nil
}

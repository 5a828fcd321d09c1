package strategy

import (
	"go.uber.org/zap"

	"quant-trade-bot-go/internal/indicator"
	"quant-trade-bot-go/internal/market"
)

// TrendFollowing trades moving-average crossovers confirmed by momentum.
// LONG when the short MA crosses above the long MA with positive momentum,
// SHORT on the mirrored crossover. Stops and targets are placed k and m ATRs
// away from the entry close.
type TrendFollowing struct {
	period         int // long MA window
	shortPeriod    int // short MA window, period/2 unless overridden
	atrPeriod      int
	stopMultiple   float64 // k
	targetMultiple float64 // m
	logger         *zap.Logger
}

// NewTrendFollowing builds the strategy. Recognized params: period (default
// 14), short_period (default period/2), atr_period (default = period),
// stop_multiple and target_multiple (default 2).
func NewTrendFollowing(params map[string]float64, logger *zap.Logger) *TrendFollowing {
	period := int(param(params, "period", 14))
	return &TrendFollowing{
		period:         period,
		shortPeriod:    int(param(params, "short_period", float64(period/2))),
		atrPeriod:      int(param(params, "atr_period", float64(period))),
		stopMultiple:   param(params, "stop_multiple", 2),
		targetMultiple: param(params, "target_multiple", 2),
		logger:         logger,
	}
}

func (s *TrendFollowing) Name() string { return NameTrendFollowing }

// Lookback returns the minimum window length the strategy needs.
func (s *TrendFollowing) Lookback() int {
	// One extra bar beyond the MA window for the previous-bar averages, and
	// one beyond the ATR window for the first true range.
	n := s.period + 1
	if a := s.atrPeriod + 1; a > n {
		n = a
	}
	return n
}

func (s *TrendFollowing) Evaluate(symbol string, window []market.PriceBar, st State) (market.Signal, State, error) {
	closes := market.Closes(window)

	shortMA, err := indicator.SMA(closes, s.shortPeriod)
	if err != nil {
		return market.Signal{}, st, err
	}
	longMA, err := indicator.SMA(closes, s.period)
	if err != nil {
		return market.Signal{}, st, err
	}
	atr, err := indicator.ATR(window, s.atrPeriod)
	if err != nil {
		return market.Signal{}, st, err
	}
	momentum, err := indicator.Momentum(closes, s.period)
	if err != nil {
		return market.Signal{}, st, err
	}

	// On a fresh state there is no earlier bar to compare against, so the
	// current MA relationship itself counts as the crossover. This makes the
	// strategy join an already established trend on its first evaluation
	// instead of waiting for the trend to reverse and come back.
	crossedUp := shortMA > longMA && (!st.HasPrevMA || st.PrevShortMA <= st.PrevLongMA)
	crossedDown := shortMA < longMA && (!st.HasPrevMA || st.PrevShortMA >= st.PrevLongMA)

	next := st
	next.PrevShortMA = shortMA
	next.PrevLongMA = longMA
	next.HasPrevMA = true

	close := closes[len(closes)-1]
	ts := window[len(window)-1].Timestamp

	switch {
	case crossedUp && crossedDown:
		// Degenerate parameterization; refuse to pick a side.
		s.logger.Warn("contradictory crossover conditions, emitting FLAT",
			zap.String("symbol", symbol),
			zap.Float64("short_ma", shortMA),
			zap.Float64("long_ma", longMA))
		return flat(symbol, window, "ambiguous crossover"), next, nil
	case crossedUp && momentum > 0:
		next.PrevDirection = market.Long
		return market.Signal{
			Symbol:          symbol,
			Direction:       market.Long,
			Strength:        1,
			StopPrice:       close - atr*s.stopMultiple,
			TakeProfitPrice: close + atr*s.targetMultiple,
			GeneratedAt:     ts,
			Reason:          "short MA crossed above long MA with positive momentum",
		}, next, nil
	case crossedDown && momentum < 0:
		next.PrevDirection = market.Short
		return market.Signal{
			Symbol:          symbol,
			Direction:       market.Short,
			Strength:        1,
			StopPrice:       close + atr*s.stopMultiple,
			TakeProfitPrice: close - atr*s.targetMultiple,
			GeneratedAt:     ts,
			Reason:          "short MA crossed below long MA with negative momentum",
		}, next, nil
	}

	return flat(symbol, window, "no crossover"), next, nil
}

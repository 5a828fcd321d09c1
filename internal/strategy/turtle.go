package strategy

import (
	"go.uber.org/zap"

	"quant-trade-bot-go/internal/indicator"
	"quant-trade-bot-go/internal/market"
)

// Turtle is the classic Donchian breakout system: enter LONG when the close
// breaks the entry-period high, SHORT on a breakdown of the entry-period low,
// and exit on a breach of the shorter exit-period opposite channel. Channels
// exclude the current bar so a bar cannot break a level it set itself.
// Position sizing for this strategy is ATR-unit based and handled by the risk
// sizer from the ATR-derived stop distance on the signal.
type Turtle struct {
	entryPeriod  int
	exitPeriod   int
	atrPeriod    int
	stopMultiple float64
	logger       *zap.Logger
}

// NewTurtle builds the strategy. Recognized params: entry_period (default
// 20), exit_period (default 10), atr_period (default 20), stop_multiple
// (default 2). The exit channel is expected to be shorter than the entry
// channel.
func NewTurtle(params map[string]float64, logger *zap.Logger) *Turtle {
	return &Turtle{
		entryPeriod:  int(param(params, "entry_period", 20)),
		exitPeriod:   int(param(params, "exit_period", 10)),
		atrPeriod:    int(param(params, "atr_period", 20)),
		stopMultiple: param(params, "stop_multiple", 2),
		logger:       logger,
	}
}

func (s *Turtle) Name() string { return NameTurtle }

// Lookback returns the minimum window length the strategy needs.
func (s *Turtle) Lookback() int {
	n := s.entryPeriod + 1
	if e := s.exitPeriod + 1; e > n {
		n = e
	}
	if a := s.atrPeriod + 1; a > n {
		n = a
	}
	return n
}

func (s *Turtle) Evaluate(symbol string, window []market.PriceBar, st State) (market.Signal, State, error) {
	entry, err := indicator.DonchianPrior(window, s.entryPeriod)
	if err != nil {
		return market.Signal{}, st, err
	}
	exit, err := indicator.DonchianPrior(window, s.exitPeriod)
	if err != nil {
		return market.Signal{}, st, err
	}
	atr, err := indicator.ATR(window, s.atrPeriod)
	if err != nil {
		return market.Signal{}, st, err
	}

	close := window[len(window)-1].Close
	ts := window[len(window)-1].Timestamp
	next := st

	// Exit rule runs before entries: a long unwinds on a breach of the
	// exit-period low, a short on a breach of the exit-period high.
	switch st.PrevDirection {
	case market.Long:
		if close < exit.Lower {
			next.PrevDirection = market.Flat
			return market.Signal{
				Symbol:      symbol,
				Direction:   market.Short,
				GeneratedAt: ts,
				Reason:      "close breached exit-channel low",
				Exit:        true,
			}, next, nil
		}
	case market.Short:
		if close > exit.Upper {
			next.PrevDirection = market.Flat
			return market.Signal{
				Symbol:      symbol,
				Direction:   market.Long,
				GeneratedAt: ts,
				Reason:      "close breached exit-channel high",
				Exit:        true,
			}, next, nil
		}
	}

	longBreak := close > entry.Upper
	shortBreak := close < entry.Lower

	switch {
	case longBreak && shortBreak:
		// Channel inverted; refuse to trade it.
		s.logger.Warn("contradictory breakout conditions, emitting FLAT",
			zap.String("symbol", symbol),
			zap.Float64("close", close),
			zap.Float64("entry_upper", entry.Upper),
			zap.Float64("entry_lower", entry.Lower))
		return flat(symbol, window, "ambiguous breakout"), next, nil
	case longBreak && st.PrevDirection != market.Long:
		next.PrevDirection = market.Long
		return market.Signal{
			Symbol:          symbol,
			Direction:       market.Long,
			Strength:        1,
			StopPrice:       close - atr*s.stopMultiple,
			TakeProfitPrice: close + atr*s.stopMultiple,
			GeneratedAt:     ts,
			Reason:          "close broke entry-channel high",
		}, next, nil
	case shortBreak && st.PrevDirection != market.Short:
		next.PrevDirection = market.Short
		return market.Signal{
			Symbol:          symbol,
			Direction:       market.Short,
			Strength:        1,
			StopPrice:       close + atr*s.stopMultiple,
			TakeProfitPrice: close - atr*s.stopMultiple,
			GeneratedAt:     ts,
			Reason:          "close broke entry-channel low",
		}, next, nil
	}

	return flat(symbol, window, "no breakout"), next, nil
}

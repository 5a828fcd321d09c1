// Package backtest replays historical price bars through a strategy, the
// position sizer, and the live lifecycle manager wired to a simulated
// exchange. Orders decided on bar i fill at bar i+1's open, so no decision
// ever sees data past the bar it was made on. Runs are deterministic:
// identical bars and parameters produce an identical report.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"quant-trade-bot-go/internal/config"
	"quant-trade-bot-go/internal/indicator"
	"quant-trade-bot-go/internal/market"
	"quant-trade-bot-go/internal/models"
	"quant-trade-bot-go/internal/notify"
	"quant-trade-bot-go/internal/position"
	"quant-trade-bot-go/internal/risk"
	"quant-trade-bot-go/internal/strategy"
)

// Simulator drives one symbol's bar sequence through the trading core.
type Simulator struct {
	logger *zap.Logger
	cfg    config.Backtest
	symCfg config.SymbolConfig
	strat  strategy.Strategy
	sizer  *risk.Sizer
}

// NewSimulator builds a simulator for one strategy and symbol configuration.
func NewSimulator(logger *zap.Logger, cfg config.Backtest, symCfg config.SymbolConfig, strat strategy.Strategy) *Simulator {
	return &Simulator{
		logger: logger.Named("backtest"),
		cfg:    cfg,
		symCfg: symCfg,
		strat:  strat,
		sizer:  risk.NewSizer(logger),
	}
}

// Run replays the bar sequence and returns the performance report. The run is
// strictly sequential; bars must carry strictly increasing timestamps.
func (s *Simulator) Run(ctx context.Context, symbol string, bars []market.PriceBar) (*Report, error) {
	if err := market.ValidateSeries(bars); err != nil {
		return nil, err
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("need at least 2 bars, got %d", len(bars))
	}
	if s.cfg.InitialEquity <= 0 {
		return nil, fmt.Errorf("initial equity must be positive, got %.2f", s.cfg.InitialEquity)
	}

	var noise *rand.Rand
	if s.cfg.SlippageNoise {
		noise = rand.New(rand.NewSource(s.cfg.SlippageSeed))
	}
	sim := newSimExchange(s.cfg.InitialEquity, s.cfg.Slippage, s.cfg.Commission, s.cfg.CommissionPerTrade, noise)

	mgr := position.NewManager(s.logger, sim, notify.Nop{}, nil)
	if err := mgr.Reconcile(ctx); err != nil {
		return nil, err
	}

	st := strategy.NewState()
	curve := make([]EquityPoint, 0, len(bars))

	for i, bar := range bars {
		sim.setMark(bar.Close)

		// Orders decided on this bar fill at the next open, so the equity
		// point is taken before any of them exist. Their effect first shows
		// on the fill bar.
		curve = append(curve, EquityPoint{Timestamp: bar.Timestamp, Equity: sim.equity()})

		if i+1 == len(bars) {
			// Nothing can fill past the final bar.
			break
		}
		sim.advance(bars[i+1])

		// Protective levels are checked against the bar's extremes; a breach
		// exits at the next open like any other order.
		if err := checkBarLevels(ctx, mgr, symbol, bar); err != nil {
			return nil, err
		}

		sig, next, err := s.strat.Evaluate(symbol, bars[:i+1], st)
		if err != nil {
			if errors.Is(err, indicator.ErrInsufficientData) {
				continue
			}
			return nil, fmt.Errorf("evaluating bar %d: %w", i, err)
		}
		st = next

		if sig.Actionable() {
			if err := s.dispatch(ctx, mgr, sim, sig, bar.Close); err != nil {
				return nil, err
			}
		}
	}

	trades := mgr.ClosedTrades()
	final := curve[len(curve)-1].Equity
	returns := periodicReturns(curve)

	return &Report{
		Symbol:        symbol,
		Strategy:      s.strat.Name(),
		BarCount:      len(bars),
		InitialEquity: s.cfg.InitialEquity,
		FinalEquity:   final,
		TotalReturn:   final/s.cfg.InitialEquity - 1,
		SharpeRatio:   sharpeRatio(returns, s.cfg.AnnualizationPeriods),
		MaxDrawdown:   maxDrawdown(curve),
		WinRate:       winRate(trades),
		TradeCount:    len(trades),
		EquityCurve:   curve,
		Trades:        trades,
	}, nil
}

// checkBarLevels tests the bar's extremes against the open position's
// protective levels, adverse side first. A bar that spans both the stop and
// the take-profit resolves as a stop for either direction.
func checkBarLevels(ctx context.Context, mgr *position.Manager, symbol string, bar market.PriceBar) error {
	first, second := bar.Low, bar.High
	if pos, ok := mgr.Get(symbol); ok && pos.Direction == market.Short {
		first, second = bar.High, bar.Low
	}
	if err := mgr.CheckProtectiveLevels(ctx, symbol, first); err != nil {
		return err
	}
	return mgr.CheckProtectiveLevels(ctx, symbol, second)
}

// dispatch sizes and routes one actionable signal. Signals that only close an
// existing position skip sizing; sizing rejections drop the signal.
func (s *Simulator) dispatch(ctx context.Context, mgr *position.Manager, sim *simExchange, sig market.Signal, lastClose float64) error {
	var decision risk.Decision
	needsSize := !sig.Exit
	if pos, ok := mgr.Get(sig.Symbol); ok && pos.Direction != sig.Direction {
		needsSize = false
	}
	if needsSize {
		equity := sim.equity()
		free := equity - mgr.UsedMargin()
		var err error
		decision, err = s.sizer.Size(sig, equity, free, lastClose, s.symCfg)
		if err != nil {
			if errors.Is(err, risk.ErrRiskLimitExceeded) || errors.Is(err, risk.ErrInvalidSignal) {
				s.logger.Debug("Dropping unsizable signal",
					zap.String("symbol", sig.Symbol),
					zap.Error(err))
				return nil
			}
			return err
		}
	}
	return mgr.HandleSignal(ctx, sig, decision)
}

// SaveRun persists the run summary row plus the run's closed trades, marked
// as simulated so they never mix with live fills.
func SaveRun(db *gorm.DB, r *Report, reportPath string) error {
	row := models.BacktestRun{
		RunID:       r.RunID,
		Symbol:      r.Symbol,
		Strategy:    r.Strategy,
		BarCount:    r.BarCount,
		TotalReturn: r.TotalReturn,
		SharpeRatio: r.SharpeRatio,
		MaxDrawdown: r.MaxDrawdown,
		WinRate:     r.WinRate,
		TradeCount:  r.TradeCount,
		ReportPath:  reportPath,
	}
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("saving run summary: %w", err)
	}
	if len(r.Trades) == 0 {
		return nil
	}
	rows := make([]models.Trade, 0, len(r.Trades))
	for _, t := range r.Trades {
		rows = append(rows, models.Trade{
			Symbol:       t.Symbol,
			Direction:    t.Direction,
			Quantity:     t.Quantity,
			EntryPrice:   t.EntryPrice,
			ExitPrice:    t.ExitPrice,
			EntryTime:    t.EntryTime,
			ExitTime:     t.ExitTime,
			RealizedPnL:  t.PnL,
			ExitReason:   t.Reason,
			IsSimulation: true,
		})
	}
	if err := db.Create(&rows).Error; err != nil {
		return fmt.Errorf("saving simulated trades: %w", err)
	}
	return nil
}

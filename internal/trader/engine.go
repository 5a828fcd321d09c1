// Package trader runs the live polling loop: fetch klines, evaluate the
// strategy, size the signal, and hand it to the position lifecycle manager.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quant-trade-bot-go/internal/config"
	"quant-trade-bot-go/internal/exchange"
	"quant-trade-bot-go/internal/indicator"
	"quant-trade-bot-go/internal/notify"
	"quant-trade-bot-go/internal/position"
	"quant-trade-bot-go/internal/risk"
	"quant-trade-bot-go/internal/strategy"
)

// symbolRuntime carries one symbol's strategy instance and its caller-owned
// evaluation state across cycles.
type symbolRuntime struct {
	cfg   config.SymbolConfig
	strat strategy.Strategy
	state strategy.State
}

// Engine is the trading engine. One evaluation pass over all configured
// symbols runs per tick; all position mutation funnels through the lifecycle
// manager.
type Engine struct {
	UUID      string
	StartTime time.Time

	logger   *zap.Logger
	cfg      *config.Config
	ex       exchange.Exchange
	mgr      *position.Manager
	sizer    *risk.Sizer
	notifier notify.Notifier
	symbols  map[string]*symbolRuntime

	callTimeout time.Duration
}

// NewEngine creates a trading engine with one strategy instance per
// configured symbol.
func NewEngine(logger *zap.Logger, cfg *config.Config, ex exchange.Exchange, db *gorm.DB, notifier notify.Notifier) (*Engine, error) {
	symbols := make(map[string]*symbolRuntime, len(cfg.Trading.Symbols))
	for symbol := range cfg.Trading.Symbols {
		sc, err := cfg.Trading.Resolve(symbol)
		if err != nil {
			return nil, err
		}
		strat, err := strategy.New(sc.Strategy, sc.Params(), logger)
		if err != nil {
			return nil, fmt.Errorf("building strategy for %s: %w", symbol, err)
		}
		symbols[symbol] = &symbolRuntime{
			cfg:   sc,
			strat: strat,
			state: strategy.NewState(),
		}
	}

	timeout := time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Engine{
		UUID:        uuid.NewString(),
		StartTime:   time.Now().UTC(),
		logger:      logger.Named("engine"),
		cfg:         cfg,
		ex:          ex,
		mgr:         position.NewManager(logger, ex, notifier, db),
		sizer:       risk.NewSizer(logger),
		notifier:    notifier,
		symbols:     symbols,
		callTimeout: timeout,
	}, nil
}

// Manager exposes the lifecycle manager for status reporting.
func (e *Engine) Manager() *position.Manager { return e.mgr }

// Symbols returns the configured symbols in stable order.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.symbols))
	for s := range e.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// StrategyNames maps each configured symbol to its strategy name.
func (e *Engine) StrategyNames() map[string]string {
	out := make(map[string]string, len(e.symbols))
	for symbol, rt := range e.symbols {
		out[symbol] = rt.strat.Name()
	}
	return out
}

// Run initializes exchange-side settings, reconciles positions, and drives
// the evaluation loop until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Initializing trading engine...")
	if err := e.initialize(ctx); err != nil {
		e.logger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	e.logger.Info("Engine initialized successfully.")

	interval := time.Duration(e.cfg.Trading.TickInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting evaluation loop", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			return
		case <-ticker.C:
			if err := e.cycle(ctx); err != nil {
				e.logger.Error("Evaluation cycle failed", zap.Error(err))
			}
		}
	}
}

// initialize applies per-symbol leverage and performs the first position
// reconciliation. Signals are refused until this reconcile succeeds.
func (e *Engine) initialize(ctx context.Context) error {
	for _, symbol := range e.Symbols() {
		rt := e.symbols[symbol]
		lev := int(rt.cfg.Leverage)
		if lev < 1 {
			lev = 1
		}
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		err := e.ex.SetLeverage(callCtx, symbol, lev)
		cancel()
		if err != nil {
			return fmt.Errorf("setting leverage for %s: %w", symbol, err)
		}
		e.logger.Info("Leverage set", zap.String("symbol", symbol), zap.Int("leverage", lev))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.mgr.Reconcile(callCtx)
}

// cycle runs one evaluation pass. The equity snapshot is taken once at cycle
// start and shared read-only by every symbol's evaluation; a failure on one
// symbol never blocks the others.
func (e *Engine) cycle(ctx context.Context) error {
	if e.mgr.NeedsReconcile() {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		err := e.mgr.Reconcile(callCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("reconciling positions: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	equity, err := e.ex.GetAccountEquity(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetching account equity: %w", err)
	}

	for _, symbol := range e.Symbols() {
		if err := e.evaluateSymbol(ctx, symbol, equity); err != nil {
			e.logger.Error("Symbol evaluation failed",
				zap.String("symbol", symbol),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, equity float64) error {
	rt := e.symbols[symbol]

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	bars, err := e.ex.GetKlines(callCtx, symbol, e.cfg.Trading.Interval, e.cfg.Trading.WindowSize)
	cancel()
	if err != nil {
		return fmt.Errorf("fetching klines: %w", err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("no klines returned for %s", symbol)
	}
	lastClose := bars[len(bars)-1].Close

	callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
	err = e.mgr.CheckProtectiveLevels(callCtx, symbol, lastClose)
	cancel()
	if err != nil {
		return err
	}

	sig, next, err := rt.strat.Evaluate(symbol, bars, rt.state)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			e.logger.Debug("Window too short for strategy",
				zap.String("symbol", symbol),
				zap.Int("bars", len(bars)))
			return nil
		}
		return err
	}
	rt.state = next

	if !sig.Actionable() {
		return nil
	}

	e.logger.Info("Signal generated",
		zap.String("symbol", symbol),
		zap.String("direction", string(sig.Direction)),
		zap.Bool("exit", sig.Exit),
		zap.String("reason", sig.Reason))
	e.notifier.Notify(notify.Event{
		Type:    notify.EventSignal,
		Symbol:  symbol,
		Details: fmt.Sprintf("%s signal: %s", sig.Direction, sig.Reason),
		At:      time.Now().UTC(),
	})

	if e.cfg.Trading.DryRun {
		e.logger.Warn("Dry run enabled, signal not executed", zap.String("symbol", symbol))
		return nil
	}

	var decision risk.Decision
	needsSize := !sig.Exit
	if pos, ok := e.mgr.Get(symbol); ok && pos.Direction != sig.Direction {
		needsSize = false
	}
	if needsSize {
		free := equity - e.mgr.UsedMargin()
		decision, err = e.sizer.Size(sig, equity, free, lastClose, rt.cfg)
		if err != nil {
			if errors.Is(err, risk.ErrRiskLimitExceeded) || errors.Is(err, risk.ErrInvalidSignal) {
				e.logger.Warn("Signal dropped by risk limits",
					zap.String("symbol", symbol),
					zap.Error(err))
				return nil
			}
			return err
		}
	}

	callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.mgr.HandleSignal(callCtx, sig, decision)
}

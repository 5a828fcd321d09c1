// Package position owns the symbol-to-position table and drives each
// symbol's order lifecycle: NONE -> PENDING_ENTRY -> OPEN -> PENDING_EXIT ->
// CLOSED -> NONE. The manager is the sole writer of position state; signals
// that arrive while a transition is in flight are queued per symbol and the
// most recent one wins once the transition resolves.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quant-trade-bot-go/internal/exchange"
	"quant-trade-bot-go/internal/market"
	"quant-trade-bot-go/internal/models"
	"quant-trade-bot-go/internal/notify"
	"quant-trade-bot-go/internal/risk"
)

// ErrStateInconsistency marks a divergence between local position state and
// the exchange's. It is recoverable: Reconcile resolves it by trusting the
// exchange.
var ErrStateInconsistency = errors.New("local position state inconsistent with exchange")

// queuedSignal is the newest signal waiting for an in-flight transition.
type queuedSignal struct {
	signal   market.Signal
	decision risk.Decision
}

// Manager runs the per-symbol position state machines.
type Manager struct {
	logger   *zap.Logger
	ex       exchange.Exchange
	notifier notify.Notifier
	db       *gorm.DB // nil disables trade persistence

	mu         sync.Mutex
	states     map[string]SymbolState
	positions  map[string]*Position
	orders     map[string]exchange.Order // reference copy of the last order per symbol
	queue      map[string]*queuedSignal
	entryTimes map[string]time.Time
	closed     []ClosedTrade
	reconciled bool
	dirty      bool // an exchange call had an unknown outcome
}

// NewManager creates a lifecycle manager. The db may be nil (backtests
// persist elsewhere).
func NewManager(logger *zap.Logger, ex exchange.Exchange, notifier notify.Notifier, db *gorm.DB) *Manager {
	return &Manager{
		logger:     logger.Named("position"),
		ex:         ex,
		notifier:   notifier,
		db:         db,
		states:     make(map[string]SymbolState),
		positions:  make(map[string]*Position),
		orders:     make(map[string]exchange.Order),
		queue:      make(map[string]*queuedSignal),
		entryTimes: make(map[string]time.Time),
	}
}

// Reconcile aligns local state with the exchange's reported open positions.
// The exchange is the source of truth: local positions the exchange does not
// know about are dropped, exchange positions without a local record are
// adopted. Every correction is logged at warning level. The manager refuses
// signals until the first reconcile succeeds.
func (m *Manager) Reconcile(ctx context.Context) error {
	remote, err := m.ex.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching exchange positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	remoteBySymbol := make(map[string]exchange.PositionInfo, len(remote))
	for _, r := range remote {
		remoteBySymbol[r.Symbol] = r
	}

	// Local positions the exchange does not report: drop. The last order
	// submitted for the symbol is named so the divergence can be traced at
	// the venue.
	for symbol, pos := range m.positions {
		if _, ok := remoteBySymbol[symbol]; !ok {
			m.logger.Warn("Correcting state inconsistency: dropping local position unknown to exchange",
				zap.String("symbol", symbol),
				zap.String("direction", string(pos.Direction)),
				zap.String("last_order_id", m.orders[symbol].ID),
				zap.Error(ErrStateInconsistency))
			delete(m.positions, symbol)
			delete(m.orders, symbol)
			m.states[symbol] = StateNone
		}
	}

	// Exchange positions with no local record: adopt.
	for symbol, r := range remoteBySymbol {
		if _, ok := m.positions[symbol]; ok {
			continue
		}
		m.logger.Warn("Correcting state inconsistency: adopting exchange position with no local record",
			zap.String("symbol", symbol),
			zap.String("direction", string(r.Direction)),
			zap.Float64("quantity", r.Quantity),
			zap.Error(ErrStateInconsistency))
		m.positions[symbol] = &Position{
			Symbol:     symbol,
			Direction:  r.Direction,
			EntryPrice: r.EntryPrice,
			Quantity:   r.Quantity,
			Leverage:   r.Leverage,
			OpenedAt:   time.Now().UTC(),
			Status:     StatusOpen,
		}
		m.states[symbol] = StateOpen
	}

	m.reconciled = true
	m.dirty = false
	return nil
}

// NeedsReconcile reports whether an exchange call with an unknown outcome
// has happened since the last reconcile.
func (m *Manager) NeedsReconcile() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.reconciled || m.dirty
}

// state returns the effective state for a symbol.
func (m *Manager) state(symbol string) SymbolState {
	if s, ok := m.states[symbol]; ok {
		return s
	}
	return StateNone
}

// Get returns a copy of the open position for a symbol.
func (m *Manager) Get(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Open returns copies of all open positions.
func (m *Manager) Open() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// ClosedTrades returns the round trips completed since the manager started,
// in close order.
func (m *Manager) ClosedTrades() []ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ClosedTrade, len(m.closed))
	copy(out, m.closed)
	return out
}

// UsedMargin sums the margin tied up by all open positions.
func (m *Manager) UsedMargin() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, p := range m.positions {
		total += p.Margin()
	}
	return total
}

// HandleSignal feeds an actionable signal plus its size decision through the
// state machine. While a transition for the symbol is in flight the signal is
// queued and the most recent one wins. Entry rejections and timeouts are
// reported, not retried; the caller re-evaluates next cycle.
func (m *Manager) HandleSignal(ctx context.Context, sig market.Signal, decision risk.Decision) error {
	m.mu.Lock()
	if !m.reconciled {
		m.mu.Unlock()
		return fmt.Errorf("%w: reconcile required before accepting signals", ErrStateInconsistency)
	}

	state := m.state(sig.Symbol)
	if state == StatePendingEntry || state == StatePendingExit {
		// Last-signal-wins: replace whatever was queued.
		m.queue[sig.Symbol] = &queuedSignal{signal: sig, decision: decision}
		m.mu.Unlock()
		m.logger.Debug("Queued signal behind in-flight transition",
			zap.String("symbol", sig.Symbol),
			zap.String("state", string(state)))
		return nil
	}
	m.mu.Unlock()

	if err := m.process(ctx, sig, decision); err != nil {
		return err
	}
	return m.drain(ctx, sig.Symbol)
}

// drain processes the queued signal for a symbol, if any.
func (m *Manager) drain(ctx context.Context, symbol string) error {
	m.mu.Lock()
	q := m.queue[symbol]
	delete(m.queue, symbol)
	m.mu.Unlock()
	if q == nil {
		return nil
	}
	return m.process(ctx, q.signal, q.decision)
}

func (m *Manager) process(ctx context.Context, sig market.Signal, decision risk.Decision) error {
	m.mu.Lock()
	state := m.state(sig.Symbol)
	pos := m.positions[sig.Symbol]

	switch state {
	case StateNone:
		if sig.Exit {
			// Nothing to close; exit signals never open positions.
			m.mu.Unlock()
			return nil
		}
		m.states[sig.Symbol] = StatePendingEntry
		m.mu.Unlock()
		return m.enter(ctx, sig, decision)

	case StateOpen:
		if pos.Direction == sig.Direction && !sig.Exit {
			// Same-direction signal on an open position: refresh protective
			// levels if they tighten, otherwise ignore. No stacking.
			m.tightenLocked(pos, sig.StopPrice, sig.TakeProfitPrice)
			m.mu.Unlock()
			return nil
		}
		// Opposing signal or explicit exit closes the position.
		m.states[sig.Symbol] = StatePendingExit
		pos.Status = StatusClosing
		m.mu.Unlock()
		return m.exit(ctx, sig.Symbol, sig.Reason)

	case StatePendingEntry, StatePendingExit:
		// A transition slipped in between the caller's check and this lock.
		// Queue instead of dropping; last-signal-wins still holds.
		m.queue[sig.Symbol] = &queuedSignal{signal: sig, decision: decision}
	}

	m.mu.Unlock()
	return nil
}

// enter submits the entry order and resolves PENDING_ENTRY.
func (m *Manager) enter(ctx context.Context, sig market.Signal, decision risk.Decision) error {
	side := exchange.SideBuy
	if sig.Direction == market.Short {
		side = exchange.SideSell
	}
	order := exchange.Order{
		ID:       uuid.NewString(),
		Symbol:   sig.Symbol,
		Side:     side,
		Type:     exchange.TypeMarket,
		Quantity: decision.Quantity,
	}

	result, err := m.ex.SubmitOrder(ctx, order)

	m.mu.Lock()
	m.orders[sig.Symbol] = order

	if err != nil {
		m.states[sig.Symbol] = StateNone
		if errors.Is(err, exchange.ErrUnavailable) {
			// Unknown outcome: the order may or may not exist remotely.
			m.dirty = true
		}
		m.mu.Unlock()
		m.notifier.Notify(notify.Event{
			Type:    notify.EventError,
			Symbol:  sig.Symbol,
			Details: fmt.Sprintf("entry order failed: %v", err),
			At:      time.Now().UTC(),
		})
		return fmt.Errorf("entry for %s: %w", sig.Symbol, err)
	}

	if result.Status != exchange.StatusFilled {
		// Rejected or still pending at the venue; treat as no entry and let
		// the next cycle re-evaluate.
		m.states[sig.Symbol] = StateNone
		if result.Status == exchange.StatusPending {
			m.dirty = true
		}
		m.mu.Unlock()
		m.notifier.Notify(notify.Event{
			Type:    notify.EventError,
			Symbol:  sig.Symbol,
			Details: fmt.Sprintf("entry order not filled: status %s", result.Status),
			At:      time.Now().UTC(),
		})
		return nil
	}

	// Slippage-aware: record what actually filled, not what was asked.
	pos := &Position{
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		EntryPrice:      result.AvgPrice,
		Quantity:        result.FilledQty,
		Leverage:        decision.Leverage,
		StopPrice:       sig.StopPrice,
		TakeProfitPrice: sig.TakeProfitPrice,
		OpenedAt:        result.SubmittedAt,
		Status:          StatusOpen,
	}
	m.positions[sig.Symbol] = pos
	m.states[sig.Symbol] = StateOpen
	m.entryTimes[sig.Symbol] = result.SubmittedAt
	m.mu.Unlock()

	m.logger.Info("Position opened",
		zap.String("symbol", sig.Symbol),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("entry_price", result.AvgPrice),
		zap.Float64("quantity", result.FilledQty))
	m.notifier.Notify(notify.Event{
		Type:    notify.EventEntry,
		Symbol:  sig.Symbol,
		Details: fmt.Sprintf("opened %s %.8g @ %.8g", sig.Direction, result.FilledQty, result.AvgPrice),
		At:      time.Now().UTC(),
	})
	return nil
}

// exit submits the closing order and resolves PENDING_EXIT.
func (m *Manager) exit(ctx context.Context, symbol, reason string) error {
	m.mu.Lock()
	pos, ok := m.positions[symbol]
	if !ok {
		m.states[symbol] = StateNone
		m.mu.Unlock()
		return fmt.Errorf("%w: exit requested for %s with no local position", ErrStateInconsistency, symbol)
	}
	side := exchange.SideSell
	if pos.Direction == market.Short {
		side = exchange.SideBuy
	}
	order := exchange.Order{
		ID:       uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Type:     exchange.TypeMarket,
		Quantity: pos.Quantity,
	}
	m.mu.Unlock()

	result, err := m.ex.SubmitOrder(ctx, order)

	m.mu.Lock()
	m.orders[symbol] = order

	if err != nil {
		// The position is still (probably) open; go back to OPEN and let
		// reconciliation sort out whether the close actually happened.
		m.states[symbol] = StateOpen
		pos.Status = StatusOpen
		if errors.Is(err, exchange.ErrUnavailable) {
			m.dirty = true
		}
		m.mu.Unlock()
		m.notifier.Notify(notify.Event{
			Type:    notify.EventError,
			Symbol:  symbol,
			Details: fmt.Sprintf("exit order failed: %v", err),
			At:      time.Now().UTC(),
		})
		return fmt.Errorf("exit for %s: %w", symbol, err)
	}

	if result.Status != exchange.StatusFilled {
		m.states[symbol] = StateOpen
		pos.Status = StatusOpen
		if result.Status == exchange.StatusPending {
			m.dirty = true
		}
		m.mu.Unlock()
		m.notifier.Notify(notify.Event{
			Type:    notify.EventError,
			Symbol:  symbol,
			Details: fmt.Sprintf("exit order not filled: status %s", result.Status),
			At:      time.Now().UTC(),
		})
		return nil
	}

	pnl := pos.UnrealizedPnL(result.AvgPrice)
	closed := ClosedTrade{
		Symbol:     symbol,
		Direction:  string(pos.Direction),
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  result.AvgPrice,
		EntryTime:  m.entryTimes[symbol],
		ExitTime:   result.SubmittedAt,
		PnL:        pnl,
		Reason:     reason,
	}
	pos.Status = StatusClosed
	delete(m.positions, symbol)
	delete(m.entryTimes, symbol)
	m.states[symbol] = StateNone
	m.closed = append(m.closed, closed)
	m.mu.Unlock()

	m.persist(closed)
	m.logger.Info("Position closed",
		zap.String("symbol", symbol),
		zap.Float64("exit_price", result.AvgPrice),
		zap.Float64("realized_pnl", pnl),
		zap.String("reason", reason))
	m.notifier.Notify(notify.Event{
		Type:    notify.EventExit,
		Symbol:  symbol,
		Details: fmt.Sprintf("closed %s @ %.8g, pnl %.2f (%s)", closed.Direction, closed.ExitPrice, pnl, reason),
		At:      time.Now().UTC(),
	})
	return nil
}

// CheckProtectiveLevels closes the position if the latest price has breached
// its stop or reached its take-profit.
func (m *Manager) CheckProtectiveLevels(ctx context.Context, symbol string, price float64) error {
	m.mu.Lock()
	pos, ok := m.positions[symbol]
	if !ok || m.state(symbol) != StateOpen {
		m.mu.Unlock()
		return nil
	}

	var reason string
	switch {
	case pos.StopBreached(price):
		reason = "stop breached"
	case pos.TargetReached(price):
		reason = "take-profit reached"
	default:
		m.mu.Unlock()
		return nil
	}

	m.states[symbol] = StatePendingExit
	pos.Status = StatusClosing
	m.mu.Unlock()

	if err := m.exit(ctx, symbol, reason); err != nil {
		return err
	}
	return m.drain(ctx, symbol)
}

// TightenStops adjusts protective levels in the profit-protecting direction
// only. A loosening request is ignored and reported false.
func (m *Manager) TightenStops(symbol string, stop, takeProfit float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return false
	}
	return m.tightenLocked(pos, stop, takeProfit)
}

// tightenLocked applies only level changes that protect profit: a long's
// stop may move up, a short's down. Take-profits may only move closer to the
// current entry side for the same reason. Caller holds m.mu.
func (m *Manager) tightenLocked(pos *Position, stop, takeProfit float64) bool {
	changed := false
	if stop > 0 {
		if pos.Direction == market.Long && stop > pos.StopPrice {
			pos.StopPrice = stop
			changed = true
		}
		if pos.Direction == market.Short && (pos.StopPrice <= 0 || stop < pos.StopPrice) {
			pos.StopPrice = stop
			changed = true
		}
	}
	if takeProfit > 0 {
		if pos.Direction == market.Long && (pos.TakeProfitPrice <= 0 || takeProfit < pos.TakeProfitPrice) {
			pos.TakeProfitPrice = takeProfit
			changed = true
		}
		if pos.Direction == market.Short && takeProfit > pos.TakeProfitPrice {
			pos.TakeProfitPrice = takeProfit
			changed = true
		}
	}
	if changed {
		m.logger.Info("Protective levels tightened",
			zap.String("symbol", pos.Symbol),
			zap.Float64("stop", pos.StopPrice),
			zap.Float64("take_profit", pos.TakeProfitPrice))
	}
	return changed
}

// persist writes a closed trade to the database, if one is configured.
func (m *Manager) persist(t ClosedTrade) {
	if m.db == nil {
		return
	}
	row := models.Trade{
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		Quantity:    t.Quantity,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		EntryTime:   t.EntryTime,
		ExitTime:    t.ExitTime,
		RealizedPnL: t.PnL,
		ExitReason:  t.Reason,
	}
	if err := m.db.Create(&row).Error; err != nil {
		m.logger.Error("Failed to save trade record", zap.Error(err))
	}
}

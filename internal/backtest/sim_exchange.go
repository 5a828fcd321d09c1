package backtest

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"quant-trade-bot-go/internal/exchange"
	"quant-trade-bot-go/internal/market"
)

// simPosition is the venue-side record of an open simulated position.
type simPosition struct {
	direction  market.Direction
	quantity   float64
	entryPrice float64
}

// simExchange is the deterministic exchange used by the simulator. Orders
// fill at the open of the bar after the one they were decided on; the
// simulator primes that open via advance() before each evaluation, so fills
// never see the deciding bar's future.
type simExchange struct {
	slippage       float64
	commissionRate float64
	commissionFlat float64
	noise          *rand.Rand // nil when slippage randomization is off

	nextOpen time.Time
	fillAt   float64
	mark     float64

	cash      float64
	positions map[string]*simPosition
	fillCount int
}

func newSimExchange(initialEquity, slippage, commissionRate, commissionFlat float64, noise *rand.Rand) *simExchange {
	return &simExchange{
		slippage:       slippage,
		commissionRate: commissionRate,
		commissionFlat: commissionFlat,
		noise:          noise,
		cash:           initialEquity,
		positions:      make(map[string]*simPosition),
	}
}

// advance primes the venue with the bar orders decided now will fill on.
func (s *simExchange) advance(next market.PriceBar) {
	s.fillAt = next.Open
	s.nextOpen = next.Timestamp
}

// setMark updates the price used for mark-to-market equity.
func (s *simExchange) setMark(price float64) {
	s.mark = price
}

// equity is cash plus the mark-to-market value of open positions.
func (s *simExchange) equity() float64 {
	eq := s.cash
	for _, p := range s.positions {
		if p.direction == market.Long {
			eq += (s.mark - p.entryPrice) * p.quantity
		} else {
			eq += (p.entryPrice - s.mark) * p.quantity
		}
	}
	return eq
}

// fillPrice applies slippage against the order's side. With randomization on,
// the slippage fraction is scaled by a seeded uniform draw.
func (s *simExchange) fillPrice(side string) float64 {
	slip := s.slippage
	if s.noise != nil {
		slip *= s.noise.Float64()
	}
	if side == exchange.SideBuy {
		return s.fillAt * (1 + slip)
	}
	return s.fillAt * (1 - slip)
}

func (s *simExchange) SubmitOrder(_ context.Context, order exchange.Order) (exchange.OrderResult, error) {
	if s.fillAt <= 0 {
		return exchange.OrderResult{}, errors.New("simulated venue has no fill bar")
	}

	price := s.fillPrice(order.Side)
	s.cash -= s.commissionFlat + s.commissionRate*price*order.Quantity
	s.fillCount++

	pos, open := s.positions[order.Symbol]
	orderDir := market.Long
	if order.Side == exchange.SideSell {
		orderDir = market.Short
	}

	switch {
	case !open:
		s.positions[order.Symbol] = &simPosition{
			direction:  orderDir,
			quantity:   order.Quantity,
			entryPrice: price,
		}
	case pos.direction != orderDir:
		// Closing fill: realize the price difference into cash.
		if pos.direction == market.Long {
			s.cash += (price - pos.entryPrice) * pos.quantity
		} else {
			s.cash += (pos.entryPrice - price) * pos.quantity
		}
		delete(s.positions, order.Symbol)
	default:
		// Same-direction add; the lifecycle manager never stacks, so this
		// only happens if a caller bypasses it.
		pos.entryPrice = (pos.entryPrice*pos.quantity + price*order.Quantity) / (pos.quantity + order.Quantity)
		pos.quantity += order.Quantity
	}

	return exchange.OrderResult{
		OrderID:     order.ID,
		Status:      exchange.StatusFilled,
		FilledQty:   order.Quantity,
		AvgPrice:    price,
		SubmittedAt: s.nextOpen,
	}, nil
}

func (s *simExchange) GetOpenPositions(_ context.Context) ([]exchange.PositionInfo, error) {
	out := make([]exchange.PositionInfo, 0, len(s.positions))
	for symbol, p := range s.positions {
		out = append(out, exchange.PositionInfo{
			Symbol:     symbol,
			Direction:  p.direction,
			Quantity:   p.quantity,
			EntryPrice: p.entryPrice,
			Leverage:   1,
		})
	}
	return out, nil
}

func (s *simExchange) GetAccountEquity(_ context.Context) (float64, error) {
	return s.equity(), nil
}

func (s *simExchange) GetKlines(_ context.Context, _, _ string, _ int) ([]market.PriceBar, error) {
	return nil, errors.New("simulated venue does not serve klines")
}

func (s *simExchange) CancelOrder(_ context.Context, _, _ string) error {
	return nil
}

func (s *simExchange) SetLeverage(_ context.Context, _ string, _ int) error {
	return nil
}

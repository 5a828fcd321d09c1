package backtest

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quant-trade-bot-go/internal/config"
	"quant-trade-bot-go/internal/exchange"
	"quant-trade-bot-go/internal/market"
	"quant-trade-bot-go/internal/models"
	"quant-trade-bot-go/internal/notify"
	"quant-trade-bot-go/internal/position"
	"quant-trade-bot-go/internal/risk"
	"quant-trade-bot-go/internal/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// barsFromCloses builds an hourly series where each bar opens at the previous
// close, with a small wick on both sides.
func barsFromCloses(closes []float64) []market.PriceBar {
	bars := make([]market.PriceBar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		bars[i] = market.PriceBar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      math.Max(open, c) + 0.1,
			Low:       math.Min(open, c) - 0.1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func trendCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return closes
}

func testSymbolConfig() config.SymbolConfig {
	return config.SymbolConfig{
		Strategy: strategy.NameTrendFollowing,
		StrategyParams: map[string]float64{
			"period":       20,
			"short_period": 5,
			"atr_period":   5,
		},
		Leverage:             1,
		RiskFraction:         0.01,
		MaxAllocation:        1,
		PositionSizeFraction: 0.1,
	}
}

func newTestSimulator(t *testing.T, cfg config.Backtest) *Simulator {
	symCfg := testSymbolConfig()
	strat, err := strategy.New(symCfg.Strategy, symCfg.StrategyParams, zap.NewNop())
	require.NoError(t, err)
	return NewSimulator(zap.NewNop(), cfg, symCfg, strat)
}

func TestRun_TrendSeries_FillsAtNextOpen(t *testing.T) {
	sim := newTestSimulator(t, config.Backtest{
		InitialEquity:        10000,
		AnnualizationPeriods: 252,
	})
	bars := barsFromCloses(trendCloses(60))

	report, err := sim.Run(context.Background(), "BTCUSDT", bars)
	require.NoError(t, err)

	require.NotEmpty(t, report.Trades, "a steady uptrend should enter long and take profit")
	entry := report.Trades[0]
	assert.Equal(t, "LONG", entry.Direction)
	assert.Positive(t, entry.PnL)

	// The fill must land on the open of the bar after the deciding one.
	fillBar, ok := barAt(bars, entry.EntryTime)
	require.True(t, ok, "entry time should match a bar timestamp")
	assert.Equal(t, fillBar.Open, entry.EntryPrice)

	assert.Positive(t, report.TotalReturn)
	assert.Equal(t, len(report.Trades), report.TradeCount)
	assert.Positive(t, report.WinRate)
	assert.Len(t, report.EquityCurve, len(bars))
}

func barAt(bars []market.PriceBar, ts time.Time) (market.PriceBar, bool) {
	for _, b := range bars {
		if b.Timestamp.Equal(ts) {
			return b, true
		}
	}
	return market.PriceBar{}, false
}

func TestRun_FlatSeries(t *testing.T) {
	sim := newTestSimulator(t, config.Backtest{
		InitialEquity:        10000,
		AnnualizationPeriods: 252,
	})
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100
	}

	report, err := sim.Run(context.Background(), "BTCUSDT", barsFromCloses(closes))
	require.NoError(t, err)

	assert.Zero(t, report.TradeCount)
	assert.Zero(t, report.TotalReturn)
	assert.Zero(t, report.SharpeRatio)
	assert.Zero(t, report.MaxDrawdown)
	assert.Zero(t, report.WinRate)
	assert.Equal(t, 10000.0, report.FinalEquity)
}

func TestRun_EquityRecognizedAtFillBar(t *testing.T) {
	sim := newTestSimulator(t, config.Backtest{
		InitialEquity:        10000,
		CommissionPerTrade:   5,
		AnnualizationPeriods: 252,
	})
	bars := barsFromCloses(trendCloses(60))

	report, err := sim.Run(context.Background(), "BTCUSDT", bars)
	require.NoError(t, err)
	require.NotEmpty(t, report.Trades)

	// The first order is decided one bar before it fills; its commission and
	// mark-to-market must not appear on the curve before the fill bar.
	entryTime := report.Trades[0].EntryTime
	sawFillBar := false
	for _, pt := range report.EquityCurve {
		if pt.Timestamp.Before(entryTime) {
			assert.Equalf(t, 10000.0, pt.Equity, "no position effect expected at %s", pt.Timestamp)
		}
		if pt.Timestamp.Equal(entryTime) {
			sawFillBar = true
			assert.NotEqual(t, 10000.0, pt.Equity)
		}
	}
	assert.True(t, sawFillBar)
}

func TestCheckBarLevels_ShortStopWinsInsideOneBar(t *testing.T) {
	ctx := context.Background()
	venue := newSimExchange(10000, 0, 0, 0, nil)
	mgr := position.NewManager(zap.NewNop(), venue, notify.Nop{}, nil)
	require.NoError(t, mgr.Reconcile(ctx))

	venue.advance(market.PriceBar{Timestamp: t0, Open: 100})
	venue.setMark(100)
	short := market.Signal{
		Symbol:          "BTCUSDT",
		Direction:       market.Short,
		StopPrice:       105,
		TakeProfitPrice: 95,
		GeneratedAt:     t0,
	}
	require.NoError(t, mgr.HandleSignal(ctx, short, risk.Decision{Symbol: "BTCUSDT", Quantity: 1, Leverage: 1}))

	// One bar spans both levels; the adverse extreme resolves first, so the
	// short is stopped out rather than credited with the take-profit.
	venue.advance(market.PriceBar{Timestamp: t0.Add(2 * time.Hour), Open: 100})
	wide := market.PriceBar{Timestamp: t0.Add(time.Hour), Open: 100, High: 106, Low: 94, Close: 100}
	require.NoError(t, checkBarLevels(ctx, mgr, "BTCUSDT", wide))

	trades := mgr.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, "stop breached", trades[0].Reason)
}

func TestRun_Deterministic(t *testing.T) {
	cfg := config.Backtest{
		InitialEquity:        10000,
		Slippage:             0.0005,
		SlippageNoise:        true,
		SlippageSeed:         42,
		Commission:           0.0004,
		AnnualizationPeriods: 252,
	}
	bars := barsFromCloses(trendCloses(60))

	first, err := newTestSimulator(t, cfg).Run(context.Background(), "BTCUSDT", bars)
	require.NoError(t, err)
	second, err := newTestSimulator(t, cfg).Run(context.Background(), "BTCUSDT", bars)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical inputs must yield an identical report")
}

func TestRun_CommissionReducesEquity(t *testing.T) {
	base := config.Backtest{InitialEquity: 10000, AnnualizationPeriods: 252}
	withFees := base
	withFees.Commission = 0.001
	bars := barsFromCloses(trendCloses(60))

	free, err := newTestSimulator(t, base).Run(context.Background(), "BTCUSDT", bars)
	require.NoError(t, err)
	paid, err := newTestSimulator(t, withFees).Run(context.Background(), "BTCUSDT", bars)
	require.NoError(t, err)

	require.Positive(t, free.TradeCount)
	assert.Less(t, paid.FinalEquity, free.FinalEquity)
}

func TestRun_RejectsBadInput(t *testing.T) {
	sim := newTestSimulator(t, config.Backtest{InitialEquity: 10000})

	_, err := sim.Run(context.Background(), "BTCUSDT", barsFromCloses([]float64{100}))
	assert.Error(t, err)

	bars := barsFromCloses(trendCloses(10))
	bars[3].Timestamp = bars[2].Timestamp // not strictly increasing
	_, err = sim.Run(context.Background(), "BTCUSDT", bars)
	assert.Error(t, err)

	_, err = newTestSimulator(t, config.Backtest{}).Run(context.Background(), "BTCUSDT", barsFromCloses(trendCloses(10)))
	assert.Error(t, err, "zero initial equity is rejected")
}

func TestSimExchange_SlippageAndCommission(t *testing.T) {
	sim := newSimExchange(10000, 0.001, 0.0004, 0, nil)
	sim.advance(market.PriceBar{Timestamp: t0, Open: 100})

	buy, err := sim.SubmitOrder(context.Background(), exchange.Order{
		ID: "o1", Symbol: "BTCUSDT", Side: exchange.SideBuy, Type: exchange.TypeMarket, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, buy.Status)
	assert.InDelta(t, 100.1, buy.AvgPrice, 1e-9) // open * (1 + slippage)
	assert.Equal(t, t0, buy.SubmittedAt)
	assert.InDelta(t, 10000-0.0004*100.1*10, sim.cash, 1e-9)

	// Closing sell fills below the open and realizes the price difference.
	sim.advance(market.PriceBar{Timestamp: t0.Add(time.Hour), Open: 110})
	sell, err := sim.SubmitOrder(context.Background(), exchange.Order{
		ID: "o2", Symbol: "BTCUSDT", Side: exchange.SideSell, Type: exchange.TypeMarket, Quantity: 10,
	})
	require.NoError(t, err)
	assert.InDelta(t, 109.89, sell.AvgPrice, 1e-9) // open * (1 - slippage)

	sim.setMark(110)
	assert.Greater(t, sim.equity(), 10000.0)
	positions, err := sim.GetOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestSimExchange_NoFillBarBeforeAdvance(t *testing.T) {
	sim := newSimExchange(10000, 0, 0, 0, nil)
	_, err := sim.SubmitOrder(context.Background(), exchange.Order{Symbol: "BTCUSDT", Side: exchange.SideBuy, Quantity: 1})
	assert.Error(t, err)
}

func TestSharpeRatio(t *testing.T) {
	assert.Zero(t, sharpeRatio(nil, 252))
	assert.Zero(t, sharpeRatio([]float64{0.01, 0.01, 0.01}, 252), "zero deviation defines the ratio as 0")

	got := sharpeRatio([]float64{0.01, -0.01}, 252)
	assert.Zero(t, got, "zero mean yields zero ratio")

	got = sharpeRatio([]float64{0.02, 0.0}, 1)
	// mean 0.01, population stddev 0.01.
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	curve := func(vals ...float64) []EquityPoint {
		out := make([]EquityPoint, len(vals))
		for i, v := range vals {
			out[i] = EquityPoint{Timestamp: t0.Add(time.Duration(i) * time.Hour), Equity: v}
		}
		return out
	}

	assert.Zero(t, maxDrawdown(curve(100, 110, 120)))
	assert.InDelta(t, 0.25, maxDrawdown(curve(100, 120, 90, 110)), 1e-9)
	assert.InDelta(t, 0.5, maxDrawdown(curve(100, 50, 200, 150)), 1e-9)
}

func TestWinRate(t *testing.T) {
	assert.Zero(t, winRate(nil))
	trades := []position.ClosedTrade{{PnL: 5}, {PnL: -3}, {PnL: 1}, {PnL: 0}}
	assert.InDelta(t, 0.5, winRate(trades), 1e-9)
}

func TestSaveRun(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.BacktestRun{}, &models.Trade{}))

	report := &Report{
		RunID:       "run-1",
		Symbol:      "BTCUSDT",
		Strategy:    strategy.NameTrendFollowing,
		BarCount:    60,
		TotalReturn: 0.12,
		SharpeRatio: 1.4,
		MaxDrawdown: 0.05,
		WinRate:     0.6,
		TradeCount:  1,
		Trades: []position.ClosedTrade{{
			Symbol:     "BTCUSDT",
			Direction:  "LONG",
			Quantity:   1,
			EntryPrice: 100,
			ExitPrice:  112,
			PnL:        12,
			Reason:     "take-profit reached",
		}},
	}
	require.NoError(t, SaveRun(db, report, "/tmp/report.json"))

	var row models.BacktestRun
	require.NoError(t, db.First(&row, "run_id = ?", "run-1").Error)
	assert.Equal(t, 0.12, row.TotalReturn)
	assert.Equal(t, 1, row.TradeCount)

	var trades []models.Trade
	require.NoError(t, db.Find(&trades).Error)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].IsSimulation, "backtest fills are flagged as simulated")
	assert.Equal(t, 12.0, trades[0].RealizedPnL)
}

func TestReportWriteJSON(t *testing.T) {
	report := &Report{RunID: "run-2", Symbol: "ETHUSDT", Strategy: strategy.NameTurtle}
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "run-2"`)
	assert.Contains(t, string(data), `"equity_curve"`)
}

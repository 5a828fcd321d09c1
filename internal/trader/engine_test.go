package trader

import (
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quant-trade-bot-go/internal/config"
	"quant-trade-bot-go/internal/exchange"
	"quant-trade-bot-go/internal/market"
	"quant-trade-bot-go/internal/notify"
	"quant-trade-bot-go/internal/strategy"
)

type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.PriceBar, error) {
	args := m.Called(ctx, symbol, interval, limit)
	return args.Get(0).([]market.PriceBar), args.Error(1)
}

func (m *MockExchange) SubmitOrder(ctx context.Context, order exchange.Order) (exchange.OrderResult, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	args := m.Called(ctx, symbol, orderID)
	return args.Error(0)
}

func (m *MockExchange) GetOpenPositions(ctx context.Context) ([]exchange.PositionInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]exchange.PositionInfo), args.Error(1)
}

func (m *MockExchange) GetAccountEquity(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	args := m.Called(ctx, symbol, leverage)
	return args.Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		Exchange: config.Exchange{TimeoutSeconds: 5},
		Trading: config.Trading{
			TickInterval: 60,
			Interval:     "1h",
			WindowSize:   60,
			ApiPort:      8080,
			Symbols: map[string]config.SymbolConfig{
				"BTCUSDT": {
					Strategy: strategy.NameTrendFollowing,
					StrategyParams: map[string]float64{
						"period":       20,
						"short_period": 5,
						"atr_period":   5,
					},
					Leverage:      2,
					RiskFraction:  0.01,
					MaxAllocation: 1,
				},
			},
		},
	}
}

func uptrendBars(n int) []market.PriceBar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.PriceBar, n)
	for i := range bars {
		c := 100 + float64(i)
		open := c - 1
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

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *MockExchange) {
	ex := new(MockExchange)
	e, err := NewEngine(zap.NewNop(), cfg, ex, nil, notify.Nop{})
	require.NoError(t, err)
	return e, ex
}

func TestNewEngine_UnknownStrategy(t *testing.T) {
	cfg := testConfig()
	sc := cfg.Trading.Symbols["BTCUSDT"]
	sc.Strategy = "martingale"
	cfg.Trading.Symbols["BTCUSDT"] = sc

	ex := new(MockExchange)
	_, err := NewEngine(zap.NewNop(), cfg, ex, nil, notify.Nop{})
	assert.Error(t, err)
}

func TestInitialize_SetsLeverageAndReconciles(t *testing.T) {
	e, ex := newTestEngine(t, testConfig())
	ex.On("SetLeverage", mock.Anything, "BTCUSDT", 2).Return(nil).Once()
	ex.On("GetOpenPositions", mock.Anything).Return([]exchange.PositionInfo{}, nil).Once()

	require.NoError(t, e.initialize(context.Background()))
	assert.False(t, e.Manager().NeedsReconcile())
	ex.AssertExpectations(t)
}

func TestCycle_UptrendOpensLong(t *testing.T) {
	e, ex := newTestEngine(t, testConfig())
	ex.On("SetLeverage", mock.Anything, "BTCUSDT", 2).Return(nil)
	ex.On("GetOpenPositions", mock.Anything).Return([]exchange.PositionInfo{}, nil)
	ex.On("GetAccountEquity", mock.Anything).Return(10000.0, nil)
	ex.On("GetKlines", mock.Anything, "BTCUSDT", "1h", 60).Return(uptrendBars(60), nil)
	ex.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(o exchange.Order) bool {
		return o.Symbol == "BTCUSDT" && o.Side == exchange.SideBuy
	})).Return(exchange.OrderResult{
		OrderID:     "ex-1",
		Status:      exchange.StatusFilled,
		FilledQty:   1,
		AvgPrice:    159,
		SubmittedAt: time.Now().UTC(),
	}, nil)

	require.NoError(t, e.initialize(context.Background()))
	require.NoError(t, e.cycle(context.Background()))

	pos, ok := e.Manager().Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, market.Long, pos.Direction)

	// A second pass over the same window generates no new crossover; the
	// order count stays at one.
	require.NoError(t, e.cycle(context.Background()))
	ex.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestCycle_DryRunSubmitsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.DryRun = true
	e, ex := newTestEngine(t, cfg)
	ex.On("SetLeverage", mock.Anything, "BTCUSDT", 2).Return(nil)
	ex.On("GetOpenPositions", mock.Anything).Return([]exchange.PositionInfo{}, nil)
	ex.On("GetAccountEquity", mock.Anything).Return(10000.0, nil)
	ex.On("GetKlines", mock.Anything, "BTCUSDT", "1h", 60).Return(uptrendBars(60), nil)

	require.NoError(t, e.initialize(context.Background()))
	require.NoError(t, e.cycle(context.Background()))

	ex.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestCycle_KlineFailureIsIsolated(t *testing.T) {
	e, ex := newTestEngine(t, testConfig())
	ex.On("SetLeverage", mock.Anything, "BTCUSDT", 2).Return(nil)
	ex.On("GetOpenPositions", mock.Anything).Return([]exchange.PositionInfo{}, nil)
	ex.On("GetAccountEquity", mock.Anything).Return(10000.0, nil)
	ex.On("GetKlines", mock.Anything, "BTCUSDT", "1h", 60).
		Return([]market.PriceBar{}, exchange.ErrUnavailable)

	require.NoError(t, e.initialize(context.Background()))
	// The symbol's failure is logged, not fatal to the cycle.
	assert.NoError(t, e.cycle(context.Background()))
}

func TestAPIServer_Status(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	srv := NewAPIServer(e, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.statusHandler(rec, httptest.NewRequest("GET", "/status", nil))

	require.Equal(t, 200, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, e.UUID, status["uuid"])
	assert.Equal(t, true, status["needs_reconcile"])
	strategies, ok := status["strategies"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, strategy.NameTrendFollowing, strategies["BTCUSDT"])
}

func TestAPIServer_Health(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	srv := NewAPIServer(e, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.healthHandler(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "OK")
}

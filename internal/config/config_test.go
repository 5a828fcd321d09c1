package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_MergesDefaults(t *testing.T) {
	tr := Trading{
		Defaults: SymbolConfig{
			Strategy:     "trend_following",
			Leverage:     3,
			RiskFraction: 0.02,
			ATRMultiple:  2.5,
		},
		Symbols: map[string]SymbolConfig{
			"BTCUSDT": {Leverage: 5},
			"ETHUSDT": {},
		},
	}

	sc, err := tr.Resolve("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 5.0, sc.Leverage, "explicit per-symbol value wins")
	assert.Equal(t, 0.02, sc.RiskFraction)
	assert.Equal(t, 2.5, sc.ATRMultiple)
	assert.Equal(t, "trend_following", sc.Strategy)

	_, err = tr.Resolve("XRPUSDT")
	assert.Error(t, err)
}

func TestParams_ATRMultipleSetsStopDefault(t *testing.T) {
	sc := SymbolConfig{
		ATRMultiple:    2.5,
		StrategyParams: map[string]float64{"period": 14},
	}

	params := sc.Params()
	assert.Equal(t, 2.5, params["stop_multiple"])
	assert.Equal(t, 14.0, params["period"])
	assert.NotContains(t, sc.StrategyParams, "stop_multiple", "configured bundle stays untouched")

	// An explicit stop_multiple in the bundle wins over the ATR multiple.
	explicit := SymbolConfig{
		ATRMultiple:    2.5,
		StrategyParams: map[string]float64{"stop_multiple": 3},
	}
	assert.Equal(t, 3.0, explicit.Params()["stop_multiple"])

	// Without an ATR multiple the bundle passes through as-is.
	assert.Nil(t, SymbolConfig{}.Params())
}

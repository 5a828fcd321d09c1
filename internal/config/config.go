package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Exchange      Exchange      `mapstructure:"exchange"`
	Trading       Trading       `mapstructure:"trading"`
	Backtest      Backtest      `mapstructure:"backtest"`
	Notifications Notifications `mapstructure:"notifications"`
	Logger        Logger        `mapstructure:"logger"`
	Database      Database      `mapstructure:"database"`
}

// Exchange holds the configuration for the exchange REST API.
type Exchange struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Trading holds the configuration for the live trading loop.
type Trading struct {
	TickInterval int                     `mapstructure:"tick_interval"`
	Interval     string                  `mapstructure:"interval"`
	WindowSize   int                     `mapstructure:"window_size"`
	DryRun       bool                    `mapstructure:"dry_run"`
	ApiPort      int                     `mapstructure:"api_port"`
	Defaults     SymbolConfig            `mapstructure:"defaults"`
	Symbols      map[string]SymbolConfig `mapstructure:"symbols"`
}

// SymbolConfig holds per-symbol trading and risk parameters. Zero-valued
// fields fall back to the Trading.Defaults entry; explicit per-symbol values
// take precedence.
type SymbolConfig struct {
	Strategy             string             `mapstructure:"strategy"`
	StrategyParams       map[string]float64 `mapstructure:"strategy_params"`
	Leverage             float64            `mapstructure:"leverage"`
	RiskFraction         float64            `mapstructure:"risk_fraction"`
	PositionSizeFraction float64            `mapstructure:"position_size_fraction"`
	MaxAllocation        float64            `mapstructure:"max_allocation"`
	MinLotSize           float64            `mapstructure:"min_lot_size"`
	ATRMultiple          float64            `mapstructure:"atr_multiple"`
}

// Backtest holds the configuration for the backtest simulator.
type Backtest struct {
	InitialEquity        float64 `mapstructure:"initial_equity"`
	Slippage             float64 `mapstructure:"slippage"`
	SlippageNoise        bool    `mapstructure:"slippage_noise"`
	SlippageSeed         int64   `mapstructure:"slippage_seed"`
	Commission           float64 `mapstructure:"commission"`
	CommissionPerTrade   float64 `mapstructure:"commission_per_trade"`
	AnnualizationPeriods float64 `mapstructure:"annualization_periods"`
}

// Notifications holds the configuration for the DingTalk notifier.
type Notifications struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Secret     string `mapstructure:"secret"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Resolve merges a symbol's config over the trading defaults.
func (t Trading) Resolve(symbol string) (SymbolConfig, error) {
	sc, ok := t.Symbols[symbol]
	if !ok {
		return SymbolConfig{}, fmt.Errorf("symbol %s not configured", symbol)
	}
	d := t.Defaults
	if sc.Strategy == "" {
		sc.Strategy = d.Strategy
	}
	if sc.StrategyParams == nil {
		sc.StrategyParams = d.StrategyParams
	}
	if sc.Leverage == 0 {
		sc.Leverage = d.Leverage
	}
	if sc.RiskFraction == 0 {
		sc.RiskFraction = d.RiskFraction
	}
	if sc.PositionSizeFraction == 0 {
		sc.PositionSizeFraction = d.PositionSizeFraction
	}
	if sc.MaxAllocation == 0 {
		sc.MaxAllocation = d.MaxAllocation
	}
	if sc.MinLotSize == 0 {
		sc.MinLotSize = d.MinLotSize
	}
	if sc.ATRMultiple == 0 {
		sc.ATRMultiple = d.ATRMultiple
	}
	return sc, nil
}

// Params returns the strategy parameter bundle for the symbol. A configured
// ATR multiple becomes the default stop_multiple unless the bundle sets one
// explicitly. The configured map is never mutated.
func (sc SymbolConfig) Params() map[string]float64 {
	if sc.ATRMultiple == 0 {
		return sc.StrategyParams
	}
	if _, ok := sc.StrategyParams["stop_multiple"]; ok {
		return sc.StrategyParams
	}
	out := make(map[string]float64, len(sc.StrategyParams)+1)
	for k, v := range sc.StrategyParams {
		out[k] = v
	}
	out["stop_multiple"] = sc.ATRMultiple
	return out
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("exchange.rate_limit", 20)      // requests per second
	viper.SetDefault("exchange.rate_limit_burst", 5) // burst size
	viper.SetDefault("exchange.timeout_seconds", 10)
	viper.SetDefault("trading.tick_interval", 60)
	viper.SetDefault("trading.interval", "1h")
	viper.SetDefault("trading.window_size", 100)
	viper.SetDefault("backtest.initial_equity", 10000)
	viper.SetDefault("backtest.annualization_periods", 252)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

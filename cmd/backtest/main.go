package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quant-trade-bot-go/internal/backtest"
	"quant-trade-bot-go/internal/config"
	"quant-trade-bot-go/internal/database"
	"quant-trade-bot-go/internal/logger"
	"quant-trade-bot-go/internal/strategy"
)

var (
	configDir  string
	dataPath   string
	symbol     string
	strategyID string
	outputPath string
	persist    bool
)

var rootCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical bars through a trading strategy",
	Long: `Replays a CSV bar series through a strategy, the risk sizer, and a
simulated exchange, then writes a JSON performance report.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&configDir, "config", "c", "./configs", "config directory")
	rootCmd.Flags().StringVarP(&dataPath, "data", "d", "", "CSV bar file (timestamp,open,high,low,close,volume)")
	rootCmd.Flags().StringVarP(&symbol, "symbol", "s", "", "symbol to simulate")
	rootCmd.Flags().StringVar(&strategyID, "strategy", "", "strategy override (trend_following, mean_reversion, turtle)")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "report.json", "report output path")
	rootCmd.Flags().BoolVar(&persist, "save", false, "save the run summary to the configured database")
	rootCmd.MarkFlagRequired("data")
	rootCmd.MarkFlagRequired("symbol")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	symCfg, err := cfg.Trading.Resolve(symbol)
	if err != nil {
		return err
	}
	if strategyID != "" {
		symCfg.Strategy = strategyID
	}

	strat, err := strategy.New(symCfg.Strategy, symCfg.Params(), log)
	if err != nil {
		return err
	}

	bars, err := backtest.LoadCSV(dataPath)
	if err != nil {
		return err
	}
	log.Info("Loaded bar series",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
		zap.String("strategy", strat.Name()))

	sim := backtest.NewSimulator(log, cfg.Backtest, symCfg, strat)
	report, err := sim.Run(context.Background(), symbol, bars)
	if err != nil {
		return fmt.Errorf("running simulation: %w", err)
	}
	report.RunID = uuid.NewString()

	if err := report.WriteJSON(outputPath); err != nil {
		return err
	}
	log.Info("Backtest complete",
		zap.String("run_id", report.RunID),
		zap.Float64("total_return", report.TotalReturn),
		zap.Float64("sharpe_ratio", report.SharpeRatio),
		zap.Float64("max_drawdown", report.MaxDrawdown),
		zap.Float64("win_rate", report.WinRate),
		zap.Int("trades", report.TradeCount),
		zap.String("report", outputPath))

	if persist {
		db, err := database.NewDatabase(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		if err := backtest.SaveRun(db, report, outputPath); err != nil {
			return err
		}
		log.Info("Run summary saved", zap.String("run_id", report.RunID))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"quant-trade-bot-go/internal/config"
	"quant-trade-bot-go/internal/database"
	"quant-trade-bot-go/internal/exchange"
	"quant-trade-bot-go/internal/logger"
	"quant-trade-bot-go/internal/notify"
	"quant-trade-bot-go/internal/trader"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize exchange client and verify connectivity
	client := exchange.NewBinanceClient(&cfg.Exchange, log)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_, err = client.GetAccountEquity(pingCtx)
	pingCancel()
	if err != nil {
		log.Fatal("Failed to connect to exchange API", zap.Error(err))
	}
	log.Info("Successfully connected to exchange API.")

	// Initialize notifier
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notifications.Enabled {
		notifier = notify.NewDingTalk(cfg.Notifications.WebhookURL, cfg.Notifications.Secret, log)
		log.Info("DingTalk notifications enabled")
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize and run the trading engine
	engine, err := trader.NewEngine(log, &cfg, client, db, notifier)
	if err != nil {
		log.Fatal("Failed to build trading engine", zap.Error(err))
	}

	api := trader.NewAPIServer(engine, log)
	api.Start()

	engine.Run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := api.Stop(stopCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}

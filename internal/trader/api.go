package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quant-trade-bot-go/internal/position"
)

// APIServer provides an HTTP interface for inspecting the trading engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(engine *Engine, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		logger: logger.Named("api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/positions", s.positionsHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", engine.cfg.Trading.ApiPort),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		UUID           string            `json:"uuid"`
		StartTime      string            `json:"start_time"`
		Uptime         string            `json:"uptime"`
		Strategies     map[string]string `json:"strategies"`
		OpenPositions  int               `json:"open_positions"`
		NeedsReconcile bool              `json:"needs_reconcile"`
		DryRun         bool              `json:"dry_run"`
	}{
		UUID:           s.engine.UUID,
		StartTime:      s.engine.StartTime.Format(time.RFC3339),
		Uptime:         time.Since(s.engine.StartTime).String(),
		Strategies:     s.engine.StrategyNames(),
		OpenPositions:  len(s.engine.Manager().Open()),
		NeedsReconcile: s.engine.Manager().NeedsReconcile(),
		DryRun:         s.engine.cfg.Trading.DryRun,
	}

	s.writeJSON(w, status)
}

func (s *APIServer) positionsHandler(w http.ResponseWriter, r *http.Request) {
	open := s.engine.Manager().Open()
	out := struct {
		Positions  []position.Position `json:"positions"`
		UsedMargin float64             `json:"used_margin"`
	}{
		Positions:  open,
		UsedMargin: s.engine.Manager().UsedMargin(),
	}

	s.writeJSON(w, out)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

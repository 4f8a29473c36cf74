// autohedged — an automated multi-venue trading engine.
//
// Architecture:
//
//	main.go                — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go        — orchestrator: wires bus/store/tracker/adapter, supervises every subsystem
//	strategy/engine.go      — HFT/LLM/Hybrid decision modes, quote -> AnalysisSignal
//	risk/engine.go          — per-signal risk gate, AnalysisSignal -> unsized OrderRequest
//	execution/engine.go     — sizing, rate limiting, order submission, OrderRequest -> ExecutionReport
//	monitor/engine.go       — pending-order reconciliation, position policing, protective exit recreation
//	exchange/*.go           — venue adapters (Alpaca, Binance, Coinbase, Kraken) + WS market data normalizers
//	store/store.go          — in-memory bounded per-symbol market data history
//	tracker/tracker.go      — position + pending-order maps shared across subsystems
//	report/report.go        — JSONL trade log + per-event snapshot/stats persistence
//
// How it makes money:
//
//	The Strategy Engine watches the configured symbols' quotes and emits a
//	buy signal when its active mode (HFT edge-bps, LLM directive, or a
//	Hybrid of the two) judges the setup favorable. The Risk Gate enriches
//	that signal into an unsized order intent with stop-loss/take-profit
//	levels. The Execution Engine sizes and submits it, and the Position Monitor then
//	owns the position until it exits at either level.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"autohedge/internal/config"
	"autohedge/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("AUTOHEDGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("autohedged started",
		"exchange", cfg.Exchange,
		"trading_mode", cfg.TradingMode,
		"strategy_mode", cfg.StrategyMode,
		"symbols", cfg.Symbols,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

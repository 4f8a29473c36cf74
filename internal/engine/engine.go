// Package engine is the central orchestrator of the trading system.
//
// It wires together every subsystem onto one shared event bus:
//
//  1. A MarketDataStream normalizes the configured venue's WebSocket feed
//     into Quote/Trade events.
//  2. The Strategy Engine turns quotes into AnalysisSignal events.
//  3. The Risk Gate enriches signals into unsized OrderRequest events.
//  4. The Execution Engine submits orders to the venue and publishes
//     ExecutionReport events.
//  5. The Position Monitor reconciles pending orders and polices open
//     positions, occasionally publishing its own OrderRequest events
//     directly (bypassing the Risk Gate for already-risk-determined exits).
//  6. The Reporter persists every Order/Execution event to disk.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autohedge/internal/bus"
	"autohedge/internal/config"
	"autohedge/internal/exchange"
	"autohedge/internal/execution"
	"autohedge/internal/llm"
	"autohedge/internal/monitor"
	"autohedge/internal/report"
	"autohedge/internal/risk"
	"autohedge/internal/store"
	"autohedge/internal/strategy"
	"autohedge/internal/tracker"
	"autohedge/pkg/types"
)

// Engine owns the lifecycle of every subsystem goroutine.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	bus     *bus.Bus
	store   *store.Store
	tracker *tracker.Tracker
	api     exchange.TradingAPI
	stream  exchange.MarketDataStream
	seq     uint64

	reporter  *report.Reporter
	strategy  *strategy.Engine
	risk      *risk.Engine
	execution *execution.Engine
	monitor   *monitor.Engine
	llmQueue  *llm.Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs and wires all engine components. cfg must already have
// passed Validate.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	api, err := exchange.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: build exchange adapter: %w", err)
	}

	b := bus.New(cfg.Bus.Capacity)
	st := store.New(cfg.HistoryLimit)
	tr := tracker.New()

	e := &Engine{cfg: cfg, logger: logger.With("component", "engine"), bus: b, store: st, tracker: tr, api: api}

	stream, err := exchange.NewMarketDataStream(cfg, st, b, &e.seq, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: build market data stream: %w", err)
	}
	e.stream = stream

	rep, err := report.New(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open reporter: %w", err)
	}
	e.reporter = rep

	// Only the LLM and Hybrid strategy modes, or an LLM filter layered onto
	// HFT execution, ever need a live model client — a pure-HFT/no-filter
	// deployment runs with a nil queue and never touches it.
	needsLLM := cfg.StrategyMode != types.StrategyHFT || cfg.MicroTrade.UseLLMFilter
	ctx, cancel := context.WithCancel(context.Background())
	e.ctx, e.cancel = ctx, cancel
	if needsLLM {
		client := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, logger)
		e.llmQueue = llm.NewQueue(ctx, client, cfg.LLMMaxConcurrent, cfg.LLMQueueSize, logger)
	}

	e.strategy = strategy.New(cfg, st, b, e.llmQueue, logger)
	e.risk = risk.New(b, api, e.llmQueue, logger)
	e.execution = execution.New(cfg, b, api, st, tr, e.llmQueue, logger)
	e.monitor = monitor.New(cfg, b, api, st, tr, logger)

	return e, nil
}

// Start launches every subsystem as a supervised goroutine and returns
// immediately; components run until ctx (from New) is canceled via Stop.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.stream.Start(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market data stream stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.strategy.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.risk.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execution.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reporter.Run(e.ctx, e.bus)
	}()

	e.logger.Info("engine started", "exchange", e.cfg.Exchange, "strategy_mode", e.cfg.StrategyMode, "symbols", e.cfg.Symbols)
	return nil
}

// Stop cancels every subsystem, cancels resting orders on the venue as a
// safety net, waits for all goroutines to exit, and closes the reporter.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := e.api.CancelAllOrders(cancelCtx); err != nil {
		e.logger.Error("failed to cancel all orders on shutdown", "error", err)
	}
	cancelCancel()

	e.wg.Wait()

	if err := e.reporter.Close(); err != nil {
		e.logger.Error("failed to close reporter", "error", err)
	}

	e.logger.Info("shutdown complete")
}

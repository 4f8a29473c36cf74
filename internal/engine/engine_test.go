package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"autohedge/internal/config"
	"autohedge/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TradingMode:  types.ModeCrypto,
		Exchange:     "binance",
		Symbols:      []string{"BTCUSDT"},
		StrategyMode: types.StrategyHFT,
		HistoryLimit: 50,
		Defaults: config.DefaultsConfig{
			TakeProfitPct:  2,
			StopLossPct:    1,
			MinOrderAmount: 10,
			MaxOrderAmount: 100,
		},
		MicroTrade: config.MicroTradeConfig{
			TargetBalancePct:  0.1,
			AggressionBps:     5,
			AccountCacheSecs:  30,
			CryptoTimeInForce: types.TIFGTC,
		},
		Bus:     config.BusConfig{Capacity: 100},
		Store:   config.StoreConfig{DataDir: t.TempDir()},
		Logging: config.LoggingConfig{Level: "info"},
	}
}

func TestNewWiresAllComponentsWithoutLLMForPureHFT(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.llmQueue != nil {
		t.Error("expected no LLM queue for pure-HFT mode without a filter")
	}
	if e.strategy == nil || e.risk == nil || e.execution == nil || e.monitor == nil || e.reporter == nil {
		t.Fatal("expected every subsystem to be constructed")
	}
}

func TestNewWiresLLMQueueWhenFilterEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.MicroTrade.UseLLMFilter = true
	cfg.LLM.APIKey = "test-key"
	e, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.llmQueue == nil {
		t.Error("expected an LLM queue when use_llm_filter is set")
	}
}

func TestStartStopCompletesWithoutHanging(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return within 10s")
	}
}

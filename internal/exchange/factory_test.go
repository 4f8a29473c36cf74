package exchange

import (
	"log/slog"
	"testing"

	"autohedge/internal/config"
)

func TestNewSelectsAdapterByExchange(t *testing.T) {
	t.Parallel()
	logger := slog.Default()

	tests := []struct {
		exchange string
		wantName string
	}{
		{"alpaca", "alpaca"},
		{"binance", "binance"},
		{"coinbase", "coinbase"},
		{"kraken", "kraken"},
	}

	for _, tt := range tests {
		cfg := &config.Config{Exchange: tt.exchange, DryRun: true}
		adapter, err := New(cfg, logger)
		if err != nil {
			t.Fatalf("New(%s): unexpected error: %v", tt.exchange, err)
		}
		if adapter.Name() != tt.wantName {
			t.Errorf("New(%s).Name() = %q, want %q", tt.exchange, adapter.Name(), tt.wantName)
		}
	}
}

func TestNewRejectsUnknownExchange(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Exchange: "dydx", DryRun: true}
	if _, err := New(cfg, slog.Default()); err == nil {
		t.Error("expected error for unknown exchange, got nil")
	}
}

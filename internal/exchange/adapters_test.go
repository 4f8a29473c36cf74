package exchange

import (
	"context"
	"log/slog"
	"testing"

	"autohedge/pkg/types"
)

func TestAlpacaCapabilitiesByTradingMode(t *testing.T) {
	t.Parallel()
	crypto := NewAlpacaAdapter("https://paper-api.alpaca.markets", "k", "s", false, true, slog.Default())
	if !crypto.Capabilities().SupportsNotionalMarketBuy {
		t.Error("crypto mode should support notional market buy")
	}
	stocks := NewAlpacaAdapter("https://paper-api.alpaca.markets", "k", "s", true, true, slog.Default())
	if stocks.Capabilities().SupportsNotionalMarketBuy {
		t.Error("stocks mode should not support notional market buy")
	}
}

func TestKrakenDoesNotSupportNotionalMarketBuy(t *testing.T) {
	t.Parallel()
	k := NewKrakenAdapter("https://api.kraken.com", "k", "s", true, slog.Default())
	if k.Capabilities().SupportsNotionalMarketBuy {
		t.Error("kraken should never support notional market buy")
	}
}

func TestCoinbaseDoesNotSupportWSQuotes(t *testing.T) {
	t.Parallel()
	c := NewCoinbaseAdapter("https://api.coinbase.com", "k", "s", "p", true, slog.Default())
	if c.Capabilities().SupportsWSQuotes {
		t.Error("coinbase should not advertise a quote websocket")
	}
}

func TestDryRunSubmitOrderSkipsNetwork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	req := types.PlaceOrderRequest{Symbol: "BTC/USD", Side: types.Buy, Qty: 0.01, OrderType: types.OrderTypeMarket, TimeInForce: types.TIFGTC}

	adapters := []TradingAPI{
		NewAlpacaAdapter("https://paper-api.alpaca.markets", "k", "s", false, true, slog.Default()),
		NewBinanceAdapter("https://api.binance.com", "k", "s", true, slog.Default()),
		NewCoinbaseAdapter("https://api.coinbase.com", "k", "s", "p", true, slog.Default()),
		NewKrakenAdapter("https://api.kraken.com", "k", "s", true, slog.Default()),
	}
	for _, a := range adapters {
		ack, err := a.SubmitOrder(ctx, req)
		if err != nil {
			t.Errorf("%s: dry-run SubmitOrder returned error: %v", a.Name(), err)
		}
		if ack.OrderID == "" {
			t.Errorf("%s: dry-run SubmitOrder returned empty order id", a.Name())
		}
		if ack.Status != types.OrderStatusFilled {
			t.Errorf("%s: dry-run SubmitOrder status = %v, want filled", a.Name(), ack.Status)
		}
	}
}

func TestDryRunCancelOrderIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	adapters := []TradingAPI{
		NewAlpacaAdapter("https://paper-api.alpaca.markets", "k", "s", false, true, slog.Default()),
		NewBinanceAdapter("https://api.binance.com", "k", "s", true, slog.Default()),
		NewCoinbaseAdapter("https://api.coinbase.com", "k", "s", "p", true, slog.Default()),
		NewKrakenAdapter("https://api.kraken.com", "k", "s", true, slog.Default()),
	}
	for _, a := range adapters {
		if err := a.CancelOrder(ctx, "whatever"); err != nil {
			t.Errorf("%s: dry-run CancelOrder returned error: %v", a.Name(), err)
		}
	}
}

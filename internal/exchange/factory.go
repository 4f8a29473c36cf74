package exchange

import (
	"fmt"
	"log/slog"

	"autohedge/internal/bus"
	"autohedge/internal/config"
	"autohedge/internal/store"
)

// New selects and constructs the TradingAPI adapter for cfg.Exchange.
func New(cfg *config.Config, logger *slog.Logger) (TradingAPI, error) {
	creds := cfg.Credentials
	switch cfg.Exchange {
	case "alpaca":
		baseURL := creds.BaseURL
		if baseURL == "" {
			baseURL = "https://paper-api.alpaca.markets"
		}
		stocks := cfg.TradingMode == "stocks"
		return NewAlpacaAdapter(baseURL, creds.APIKey, creds.APISecret, stocks, cfg.DryRun, logger), nil
	case "binance":
		baseURL := creds.BaseURL
		if baseURL == "" {
			baseURL = "https://api.binance.com"
		}
		return NewBinanceAdapter(baseURL, creds.APIKey, creds.APISecret, cfg.DryRun, logger), nil
	case "coinbase":
		baseURL := creds.BaseURL
		if baseURL == "" {
			baseURL = "https://api.coinbase.com"
		}
		return NewCoinbaseAdapter(baseURL, creds.APIKey, creds.APISecret, creds.Passphrase, cfg.DryRun, logger), nil
	case "kraken":
		baseURL := creds.BaseURL
		if baseURL == "" {
			baseURL = "https://api.kraken.com"
		}
		return NewKrakenAdapter(baseURL, creds.APIKey, creds.APISecret, cfg.DryRun, logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q (expected alpaca|binance|coinbase|kraken)", cfg.Exchange)
	}
}

// NewMarketDataStream selects and constructs the MarketDataStream for
// cfg.Exchange. seq is passed through to the stream, which stamps it on
// each event before publishing; the bus replaces Event.Seq with its own
// monotonically increasing counter on Publish.
func NewMarketDataStream(cfg *config.Config, st *store.Store, b *bus.Bus, seq *uint64, logger *slog.Logger) (MarketDataStream, error) {
	creds := cfg.Credentials
	wsURL := creds.WSURL
	switch cfg.Exchange {
	case "alpaca":
		if wsURL == "" {
			if cfg.TradingMode == "stocks" {
				wsURL = "wss://stream.data.alpaca.markets/v2/iex"
			} else {
				wsURL = "wss://stream.data.alpaca.markets/v1beta3/crypto/us"
			}
		}
		stocks := cfg.TradingMode == "stocks"
		return NewAlpacaStream(wsURL, creds.APIKey, creds.APISecret, cfg.Symbols, stocks, st, b, seq, logger), nil
	case "binance":
		if wsURL == "" {
			wsURL = "wss://stream.binance.com:9443/ws"
		}
		return NewBinanceStream(wsURL, cfg.Symbols, st, b, seq, logger), nil
	case "coinbase":
		if wsURL == "" {
			wsURL = "wss://advanced-trade-ws.coinbase.com"
		}
		return NewCoinbaseStream(wsURL, cfg.Symbols, st, b, seq, logger), nil
	case "kraken":
		if wsURL == "" {
			wsURL = "wss://ws.kraken.com"
		}
		return NewKrakenStream(wsURL, cfg.Symbols, st, b, seq, logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q (expected alpaca|binance|coinbase|kraken)", cfg.Exchange)
	}
}

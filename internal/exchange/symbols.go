package exchange

import "strings"

// Canonical symbols are "BASE/QUOTE", e.g. "BTC/USD". Each venue speaks a
// different wire format; these helpers translate in both directions so
// adapters never leak a venue-specific symbol past the TradingAPI
// boundary.

// ToCoinbaseProductID converts "BTC/USD" to "BTC-USD".
func ToCoinbaseProductID(canonical string) string {
	return strings.ReplaceAll(canonical, "/", "-")
}

// FromCoinbaseProductID converts "BTC-USD" back to "BTC/USD".
func FromCoinbaseProductID(productID string) string {
	return strings.Replace(productID, "-", "/", 1)
}

// ToKrakenPair converts "BTC/USD" to "XBT/USD" — Kraken uses the legacy
// XBT ticker for bitcoin.
func ToKrakenPair(canonical string) string {
	return strings.Replace(canonical, "BTC/", "XBT/", 1)
}

// FromKrakenPair converts "XBT/USD" back to "BTC/USD".
func FromKrakenPair(pair string) string {
	return strings.Replace(pair, "XBT/", "BTC/", 1)
}

// ToBinanceSymbol converts "BTC/USD" to "btcusdt" — Binance spot pairs are
// lowercase and concatenated, quoted in USDT rather than USD.
func ToBinanceSymbol(canonical string) string {
	s := strings.ReplaceAll(canonical, "/", "")
	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, "usd") + "usdt"
	return s
}

// FromBinanceSymbol converts "btcusdt" back to "BTC/USD".
func FromBinanceSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.TrimSuffix(s, "USDT")
	return s + "/USD"
}

// ToAlpacaSymbol converts "BTC/USD" to Alpaca's crypto pair format
// "BTC/USD" (unchanged) or, for stocks trading mode, the bare ticker
// ("AAPL/USD" -> "AAPL").
func ToAlpacaSymbol(canonical string, stocks bool) string {
	if !stocks {
		return canonical
	}
	base, _, ok := strings.Cut(canonical, "/")
	if !ok {
		return canonical
	}
	return base
}

// FromAlpacaSymbol reverses ToAlpacaSymbol: a bare equities ticker regains
// its "/USD" quote currency; crypto pairs are already canonical.
func FromAlpacaSymbol(symbol string, stocks bool) string {
	if !stocks {
		return symbol
	}
	if strings.Contains(symbol, "/") {
		return symbol
	}
	return symbol + "/USD"
}

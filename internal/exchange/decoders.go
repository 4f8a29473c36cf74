package exchange

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"autohedge/internal/bus"
	"autohedge/internal/store"
	"autohedge/pkg/types"
)

// NewAlpacaStream builds the Alpaca market data stream. wsURL must already
// select the crypto or stocks feed (stream.data.alpaca.markets/...).
// Alpaca requires an auth frame before subscribing; it is sent as a
// separate preamble frame on every (re)connect, ahead of the subscribe
// message. Both feeds subscribe to quotes and trades.
func NewAlpacaStream(wsURL, apiKey, apiSecret string, symbols []string, stocks bool, st *store.Store, b *bus.Bus, seq *uint64, logger *slog.Logger) *Stream {
	decode := func(raw []byte) ([]types.Quote, []types.Trade, error) {
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, nil, err
		}
		var quotes []types.Quote
		var trades []types.Trade
		for _, item := range items {
			t, _ := item["T"].(string)
			symbol, _ := item["S"].(string)
			if symbol == "" {
				continue
			}
			canonical := FromAlpacaSymbol(symbol, stocks)
			ts := alpacaTimestamp(item["t"])
			switch t {
			case "t":
				price, _ := item["p"].(float64)
				size, _ := item["s"].(float64)
				trades = append(trades, types.Trade{Symbol: canonical, Price: price, Size: size, Timestamp: ts})
			case "q":
				bid, _ := item["bp"].(float64)
				ask, _ := item["ap"].(float64)
				bidSize, _ := item["bs"].(float64)
				askSize, _ := item["as"].(float64)
				quotes = append(quotes, types.Quote{Symbol: canonical, BidPrice: bid, AskPrice: ask, BidSize: bidSize, AskSize: askSize, Timestamp: ts})
			}
		}
		return quotes, trades, nil
	}

	subscribe := func(syms []string) any {
		wire := make([]string, 0, len(syms))
		for _, s := range syms {
			wire = append(wire, ToAlpacaSymbol(s, stocks))
		}
		return map[string]any{"action": "subscribe", "quotes": wire, "trades": wire}
	}
	auth := func([]string) any {
		return map[string]any{"action": "auth", "key": apiKey, "secret": apiSecret}
	}

	return NewStream("alpaca", wsURL, symbols, decode, subscribe, st, b, seq, logger).WithPreamble(auth)
}

func alpacaTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Now()
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now()
	}
	return ts
}

// NewBinanceStream builds the Binance market data stream over the combined
// trade + bookTicker channels.
func NewBinanceStream(wsURL string, symbols []string, st *store.Store, b *bus.Bus, seq *uint64, logger *slog.Logger) *Stream {
	decode := func(raw []byte) ([]types.Quote, []types.Trade, error) {
		var v map[string]any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, nil, err
		}
		event, _ := v["e"].(string)
		symbolRaw, _ := v["s"].(string)
		if symbolRaw == "" {
			return nil, nil, nil
		}
		canonical := FromBinanceSymbol(strings.ToLower(symbolRaw))

		switch event {
		case "trade":
			price := parseFloatAny(v["p"])
			size := parseFloatAny(v["q"])
			ts := binanceTimestamp(v["T"])
			return nil, []types.Trade{{Symbol: canonical, Price: price, Size: size, Timestamp: ts}}, nil
		case "bookTicker":
			bid := parseFloatAny(v["b"])
			ask := parseFloatAny(v["a"])
			bidSize := parseFloatAny(v["B"])
			askSize := parseFloatAny(v["A"])
			ts := binanceTimestamp(v["E"])
			return []types.Quote{{Symbol: canonical, BidPrice: bid, AskPrice: ask, BidSize: bidSize, AskSize: askSize, Timestamp: ts}}, nil, nil
		default:
			return nil, nil, nil
		}
	}

	subscribe := func(syms []string) any {
		streams := make([]string, 0, len(syms)*2)
		for _, s := range syms {
			lower := ToBinanceSymbol(s)
			streams = append(streams, lower+"@trade", lower+"@bookTicker")
		}
		return map[string]any{"method": "SUBSCRIBE", "params": streams, "id": 1}
	}

	return NewStream("binance", wsURL, symbols, decode, subscribe, st, b, seq, logger)
}

func binanceTimestamp(v any) time.Time {
	ms := parseFloatAny(v)
	if ms == 0 {
		return time.Now()
	}
	return time.UnixMilli(int64(ms))
}

func parseFloatAny(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

// NewCoinbaseStream builds the Coinbase market_trades stream. Coinbase has
// no per-product quote channel reachable without an authenticated level2
// subscription, so this stream only ever produces trades; Strategy
// tolerates symbols that never produce a usable quote.
func NewCoinbaseStream(wsURL string, symbols []string, st *store.Store, b *bus.Bus, seq *uint64, logger *slog.Logger) *Stream {
	decode := func(raw []byte) ([]types.Quote, []types.Trade, error) {
		var v struct {
			Channel string `json:"channel"`
			Events  []struct {
				Trades []struct {
					ProductID string `json:"product_id"`
					Price     string `json:"price"`
					Size      string `json:"size"`
					Time      string `json:"time"`
				} `json:"trades"`
			} `json:"events"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, nil, err
		}
		if v.Channel != "market_trades" {
			return nil, nil, nil
		}
		var trades []types.Trade
		for _, ev := range v.Events {
			for _, tr := range ev.Trades {
				price, _ := strconv.ParseFloat(tr.Price, 64)
				if price <= 0 {
					continue
				}
				size, _ := strconv.ParseFloat(tr.Size, 64)
				ts, _ := time.Parse(time.RFC3339Nano, tr.Time)
				trades = append(trades, types.Trade{Symbol: FromCoinbaseProductID(tr.ProductID), Price: price, Size: size, Timestamp: ts})
			}
		}
		return nil, trades, nil
	}

	subscribe := func(syms []string) any {
		productIDs := make([]string, 0, len(syms))
		for _, s := range syms {
			productIDs = append(productIDs, ToCoinbaseProductID(s))
		}
		return map[string]any{"type": "subscribe", "product_ids": productIDs, "channel": "market_trades"}
	}

	return NewStream("coinbase", wsURL, symbols, decode, subscribe, st, b, seq, logger)
}

// NewKrakenStream builds the Kraken trade+ticker stream. Kraken multiplexes
// channels as arrays ([channelID, payload, channelName, pair]), not typed
// objects.
func NewKrakenStream(wsURL string, symbols []string, st *store.Store, b *bus.Bus, seq *uint64, logger *slog.Logger) *Stream {
	decode := func(raw []byte) ([]types.Quote, []types.Trade, error) {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, nil, nil // object messages (system/status) are not errors, just ignored
		}
		if len(arr) < 4 {
			return nil, nil, nil
		}
		var channelName, pair string
		if err := json.Unmarshal(arr[len(arr)-2], &channelName); err != nil {
			return nil, nil, nil
		}
		if err := json.Unmarshal(arr[len(arr)-1], &pair); err != nil {
			return nil, nil, nil
		}
		symbol := FromKrakenPair(pair)

		switch channelName {
		case "trade":
			var rows [][]any
			if err := json.Unmarshal(arr[1], &rows); err != nil {
				return nil, nil, nil
			}
			var trades []types.Trade
			for _, row := range rows {
				if len(row) < 3 {
					continue
				}
				price := parseFloatAny(row[0])
				size := parseFloatAny(row[1])
				if price <= 0 {
					continue
				}
				tsSec := parseFloatAny(row[2])
				trades = append(trades, types.Trade{Symbol: symbol, Price: price, Size: size, Timestamp: time.Unix(int64(tsSec), 0)})
			}
			return nil, trades, nil
		case "ticker":
			var ticker struct {
				B []string `json:"b"`
				A []string `json:"a"`
			}
			if err := json.Unmarshal(arr[1], &ticker); err != nil || len(ticker.B) == 0 || len(ticker.A) == 0 {
				return nil, nil, nil
			}
			bid, _ := strconv.ParseFloat(ticker.B[0], 64)
			ask, _ := strconv.ParseFloat(ticker.A[0], 64)
			if bid <= 0 || ask <= 0 {
				return nil, nil, nil
			}
			return []types.Quote{{Symbol: symbol, BidPrice: bid, AskPrice: ask, Timestamp: time.Now()}}, nil, nil
		default:
			return nil, nil, nil
		}
	}

	subscribeTo := func(channel string) SubscribeBuilder {
		return func(syms []string) any {
			pairs := make([]string, 0, len(syms))
			for _, s := range syms {
				pairs = append(pairs, ToKrakenPair(s))
			}
			return map[string]any{"event": "subscribe", "pair": pairs, "subscription": map[string]string{"name": channel}}
		}
	}

	// Kraken takes one channel name per subscribe message, so the ticker
	// subscription goes out as the preamble ahead of the trade one.
	return NewStream("kraken", wsURL, symbols, decode, subscribeTo("trade"), st, b, seq, logger).WithPreamble(subscribeTo("ticker"))
}

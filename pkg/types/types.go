// Package types defines the shared data structures passed between every
// layer of the trading engine — market data, signals, order intents,
// execution reports, and position/pending-order state. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or position.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType enumerates the order styles the execution engine can submit.
// HFTBuy is not a venue order type — it is an internal routing tag that
// sends the request to fast-path sizing without an LLM call.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeHFTBuy OrderType = "hft_buy"
)

// TimeInForce controls how long a resting order stays live.
type TimeInForce string

const (
	TIFGTC TimeInForce = "gtc"
	TIFDay TimeInForce = "day"
	TIFIOC TimeInForce = "ioc"
)

// TradingMode selects venue-category defaults: crypto trades around the
// clock and supports notional market buys; stocks trade during session
// hours with day orders as the default time-in-force.
type TradingMode string

const (
	ModeCrypto TradingMode = "crypto"
	ModeStocks TradingMode = "stocks"
)

// StrategyMode selects which decision engine drives signal generation.
type StrategyMode string

const (
	StrategyHFT    StrategyMode = "hft"
	StrategyLLM    StrategyMode = "llm"
	StrategyHybrid StrategyMode = "hybrid"
)

// SignalKind is the decision an analysis produces.
type SignalKind string

const (
	SignalBuy     SignalKind = "buy"
	SignalSell    SignalKind = "sell"
	SignalNoTrade SignalKind = "no_trade"
)

// OrderStatus mirrors the terminal and non-terminal states a venue reports
// for a submitted order.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusExpired  OrderStatus = "expired"
	OrderStatusRejected OrderStatus = "rejected"
)

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Quote is a top-of-book snapshot. No depth beyond best bid/ask is modeled —
// this engine does not reconstruct an order book.
type Quote struct {
	Symbol    string
	BidPrice  float64
	AskPrice  float64
	BidSize   float64
	AskSize   float64
	Timestamp time.Time
}

// Mid returns the midpoint price. Callers must validate the quote first
// (BidPrice > 0, AskPrice >= BidPrice) — Mid does not re-check.
func (q Quote) Mid() float64 {
	return (q.BidPrice + q.AskPrice) / 2
}

// Valid reports whether the quote satisfies the usability invariant:
// ask_price >= bid_price > 0.
func (q Quote) Valid() bool {
	return q.BidPrice > 0 && q.AskPrice >= q.BidPrice
}

// Trade is a single executed print on the venue's tape.
type Trade struct {
	Symbol    string
	Price     float64
	Size      float64
	Timestamp time.Time
	ID        string // optional, venue-assigned
}

// Bar is an OHLCV candle, used only for warmup history and LLM context.
type Bar struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// NewsItem is a free-text headline attached to a symbol, surfaced to the
// LLM strategy path as additional context.
type NewsItem struct {
	Symbol    string
	Headline  string
	Timestamp time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Event bus payloads
// ————————————————————————————————————————————————————————————————————————

// EventKind tags the payload carried by an Event.
type EventKind string

const (
	EventQuote     EventKind = "quote"
	EventTrade     EventKind = "trade"
	EventSignal    EventKind = "signal"
	EventOrder     EventKind = "order"
	EventExecution EventKind = "execution"
	EventLagged    EventKind = "lagged"
)

// Event is the tagged sum type broadcast on the bus. Exactly one of the
// payload fields is populated, matching Kind. Lagged carries no payload
// other than Skipped — it marks that the receiving subscriber missed
// Skipped prior events because its channel was full.
type Event struct {
	Kind      EventKind
	Seq       uint64
	Quote     *Quote
	Trade     *Trade
	Signal    *AnalysisSignal
	Order     *OrderRequest
	Execution *ExecutionReport
	Skipped   uint64
}

// ————————————————————————————————————————————————————————————————————————
// Strategy / risk / execution payloads
// ————————————————————————————————————————————————————————————————————————

// AnalysisSignal is the strategy engine's output: an opinion about a
// symbol, not yet sized or risk-checked. When HFT-produced, MarketContext
// literally encodes "tp=..., sl=..." for the risk gate's fast-path parser.
type AnalysisSignal struct {
	Symbol        string
	Signal        SignalKind
	Confidence    float64 // [0,1]
	Thesis        string  // free text; "HFT" prefix routes the risk gate's fast path
	MarketContext string  // free text, may encode tp=/sl= for HFT signals
}

// OrderRequest is a risk-gate-enriched order intent. Qty is left at 0 when
// the execution engine is responsible for sizing (the common case for both
// the HFT and LLM paths — see spec section 4.6).
type OrderRequest struct {
	Symbol      string
	Action      Side
	Qty         float64
	OrderType   OrderType
	LimitPrice  *float64
	StopLoss    *float64
	TakeProfit  *float64
	TimeInForce TimeInForce
}

// ExecutionReport is published after an order is submitted to the venue,
// successfully or not.
type ExecutionReport struct {
	Symbol  string
	OrderID string
	Status  OrderStatus
	Side    Side
	Price   *float64
	Qty     *float64
}

// ————————————————————————————————————————————————————————————————————————
// Position tracking
// ————————————————————————————————————————————————————————————————————————

// PositionInfo is an open (or closing) position under management. For long
// positions the invariant stop_loss < entry_price < take_profit holds.
// When OpenOrderID is empty the position is "orphaned" — there is no live
// protective exit order and the Monitor must recreate one, subject to a
// bounded retry budget.
type PositionInfo struct {
	Symbol              string
	EntryPrice          float64
	Qty                 float64
	StopLoss            float64
	TakeProfit          float64
	EntryTime           time.Time
	Side                Side
	IsClosing           bool
	OpenOrderID         string // empty = orphaned
	LastRecreateAttempt time.Time
	RecreateAttempts    int

	// Trailing-stop fields are scaffolded per spec but never drive an exit;
	// HighestPrice is updated opportunistically.
	HighestPrice       float64
	TrailingStopActive bool
	TrailingStopPrice  float64
}

// PendingOrder is a resting order the Monitor is watching to fill, cancel,
// or expire. A pending sell carries no StopLoss by default — stop-loss is
// enforced at the position level so it never races the cancellation of the
// take-profit order it guards.
type PendingOrder struct {
	OrderID       string
	Symbol        string
	Side          Side
	LimitPrice    float64
	Qty           float64
	CreatedAt     time.Time
	StopLoss      *float64
	TakeProfit    *float64
	LastCheckTime time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Exchange adapter payloads
// ————————————————————————————————————————————————————————————————————————

// ExchangeCapabilities advertises what a venue adapter supports so callers
// can branch without type-switching on the concrete adapter.
type ExchangeCapabilities struct {
	SupportsNotionalMarketBuy bool
	SupportsWSQuotes          bool
	SupportsWSTrades          bool
	SupportsNews              bool
}

// AccountSummary is the venue-reported account state used for sizing and
// for the LLM Risk agent's prompt context.
type AccountSummary struct {
	Cash           float64
	PortfolioValue float64
	BuyingPower    float64
	FetchedAt      time.Time
}

// VenuePosition is a venue-reported open position, used for qty
// reconciliation against the locally tracked PositionInfo.
type VenuePosition struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
}

// PlaceOrderRequest is the venue-agnostic order submission payload.
type PlaceOrderRequest struct {
	Symbol      string
	Side        Side
	Qty         float64
	OrderType   OrderType
	LimitPrice  *float64
	TimeInForce TimeInForce
}

// OrderAck is what every adapter returns from SubmitOrder. Raw carries the
// venue's native response for debugging; no component other than the
// adapter itself should inspect it.
type OrderAck struct {
	OrderID string
	Status  OrderStatus
	Raw     any
}

// VenueOrder is the result of polling a single order's status.
type VenueOrder struct {
	OrderID    string
	Status     OrderStatus
	FilledQty  float64
	FilledAvg  float64
	LimitPrice float64
}

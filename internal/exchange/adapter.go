// Package exchange implements the uniform TradingAPI contract over the
// four configured venues (Alpaca, Binance, Coinbase, Kraken), the market
// data stream normalizer, and venue-agnostic rate limiting. No adapter may
// leak a venue-specific type past this boundary other than the opaque Raw
// blob on OrderAck.
package exchange

import (
	"context"
	"time"

	"autohedge/pkg/types"
)

// TradingAPI is the uniform interface every venue adapter implements.
type TradingAPI interface {
	Name() string
	Capabilities() types.ExchangeCapabilities
	GetAccount(ctx context.Context) (types.AccountSummary, error)
	GetPositions(ctx context.Context) ([]types.VenuePosition, error)
	GetOrder(ctx context.Context, orderID string) (types.VenueOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context) error
	SubmitOrder(ctx context.Context, req types.PlaceOrderRequest) (types.OrderAck, error)
	GetHistoricalBars(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]types.Bar, error)
}

// MarketDataStream is the uniform interface every venue's WebSocket
// normalizer implements. Start runs until ctx is canceled or an
// unrecoverable protocol error ends the stream; the supervising engine is
// responsible for restarting it.
type MarketDataStream interface {
	Start(ctx context.Context) error
}

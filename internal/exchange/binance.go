package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autohedge/pkg/types"
)

// BinanceAdapter implements TradingAPI against Binance Spot. Binance has no
// notion of long-lived positions; GetPositions derives synthetic entries
// from non-zero account balances.
type BinanceAdapter struct {
	baseClient
	auth HMACAuth
}

func NewBinanceAdapter(baseURL, apiKey, apiSecret string, dryRun bool, logger *slog.Logger) *BinanceAdapter {
	b := &BinanceAdapter{baseClient: newBaseClient(baseURL, dryRun, logger), auth: HMACAuth{APIKey: apiKey, Secret: apiSecret}}
	b.http.SetHeader("X-MBX-APIKEY", apiKey)
	return b
}

func (b *BinanceAdapter) Name() string { return "binance" }

func (b *BinanceAdapter) Capabilities() types.ExchangeCapabilities {
	return types.ExchangeCapabilities{
		SupportsNotionalMarketBuy: true,
		SupportsWSQuotes:          true,
		SupportsWSTrades:          true,
		SupportsNews:              false,
	}
}

func (b *BinanceAdapter) signedQuery(extra map[string]string) string {
	q := "timestamp=" + Timestamp()
	for k, v := range extra {
		q += "&" + k + "=" + v
	}
	return b.auth.BinancePreHash(q)
}

type binanceAccount struct {
	Balances []struct {
		Asset string `json:"asset"`
		Free  string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func (b *BinanceAdapter) GetAccount(ctx context.Context) (types.AccountSummary, error) {
	if err := b.rl.Read.Wait(ctx); err != nil {
		return types.AccountSummary{}, err
	}
	var acct binanceAccount
	resp, err := b.http.R().SetContext(ctx).SetQueryString(b.signedQuery(nil)).SetResult(&acct).Get("/api/v3/account")
	if err != nil {
		return types.AccountSummary{}, fmt.Errorf("binance get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.AccountSummary{}, fmt.Errorf("binance get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	var usdt float64
	for _, bal := range acct.Balances {
		if bal.Asset == "USDT" {
			free, _ := strconv.ParseFloat(bal.Free, 64)
			usdt = free
			break
		}
	}
	return types.AccountSummary{Cash: usdt, PortfolioValue: usdt, BuyingPower: usdt, FetchedAt: time.Now()}, nil
}

// GetPositions returns a synthetic position for every non-zero, non-quote
// asset balance — Binance spot has no dedicated positions endpoint.
func (b *BinanceAdapter) GetPositions(ctx context.Context) ([]types.VenuePosition, error) {
	if err := b.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	var acct binanceAccount
	resp, err := b.http.R().SetContext(ctx).SetQueryString(b.signedQuery(nil)).SetResult(&acct).Get("/api/v3/account")
	if err != nil {
		return nil, fmt.Errorf("binance get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("binance get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.VenuePosition, 0)
	for _, bal := range acct.Balances {
		if bal.Asset == "USDT" || bal.Asset == "USD" {
			continue
		}
		free, _ := strconv.ParseFloat(bal.Free, 64)
		if free <= 0 {
			continue
		}
		out = append(out, types.VenuePosition{Symbol: FromBinanceSymbol(strings.ToLower(bal.Asset) + "usdt"), Qty: free})
	}
	return out, nil
}

type binanceOrder struct {
	OrderID       int64  `json:"orderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

func (b *BinanceAdapter) GetOrder(ctx context.Context, orderID string) (types.VenueOrder, error) {
	if err := b.rl.Read.Wait(ctx); err != nil {
		return types.VenueOrder{}, err
	}
	var o binanceOrder
	resp, err := b.http.R().SetContext(ctx).
		SetQueryString(b.signedQuery(map[string]string{"orderId": orderID})).
		SetResult(&o).Get("/api/v3/order")
	if err != nil {
		return types.VenueOrder{}, fmt.Errorf("binance get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return types.VenueOrder{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.VenueOrder{}, fmt.Errorf("binance get order: status %d: %s", resp.StatusCode(), resp.String())
	}
	filledQty, _ := strconv.ParseFloat(o.ExecutedQty, 64)
	price, _ := strconv.ParseFloat(o.Price, 64)
	return types.VenueOrder{
		OrderID:    strconv.FormatInt(o.OrderID, 10),
		Status:     binanceStatus(o.Status),
		FilledQty:  filledQty,
		FilledAvg:  price,
		LimitPrice: price,
	}, nil
}

func binanceStatus(s string) types.OrderStatus {
	switch s {
	case "FILLED":
		return types.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return types.OrderStatusCanceled
	case "EXPIRED":
		return types.OrderStatusExpired
	case "REJECTED":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusNew
	}
}

func (b *BinanceAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if b.dryRun {
		return nil
	}
	if err := b.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	resp, err := b.http.R().SetContext(ctx).
		SetQueryString(b.signedQuery(map[string]string{"orderId": orderID})).Delete("/api/v3/order")
	if err != nil {
		return fmt.Errorf("binance cancel order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("binance cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (b *BinanceAdapter) CancelAllOrders(ctx context.Context) error {
	if b.dryRun {
		return nil
	}
	if err := b.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	resp, err := b.http.R().SetContext(ctx).SetQueryString(b.signedQuery(nil)).Delete("/api/v3/openOrders")
	if err != nil {
		return fmt.Errorf("binance cancel all orders: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("binance cancel all orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (b *BinanceAdapter) SubmitOrder(ctx context.Context, req types.PlaceOrderRequest) (types.OrderAck, error) {
	if b.dryRun {
		b.logger.Info("dry-run: would submit order", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty)
		return types.OrderAck{OrderID: fmt.Sprintf("dry-run-%d", time.Now().UnixNano()), Status: types.OrderStatusFilled}, nil
	}
	if err := b.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	params := map[string]string{
		"symbol":      strings.ToUpper(ToBinanceSymbol(req.Symbol)),
		"side":        strings.ToUpper(string(req.Side)),
		"type":        binanceOrderType(req.OrderType),
		"quantity":    strconv.FormatFloat(req.Qty, 'f', -1, 64),
		"timeInForce": binanceTIF(req.TimeInForce),
	}
	if req.LimitPrice != nil {
		params["price"] = strconv.FormatFloat(*req.LimitPrice, 'f', -1, 64)
	}

	var o binanceOrder
	resp, err := b.http.R().SetContext(ctx).SetQueryString(b.signedQuery(params)).SetResult(&o).Post("/api/v3/order")
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("binance submit order: %w", err)
	}
	if IsInsufficientBalance(fmt.Errorf("%s", resp.String())) {
		return types.OrderAck{}, fmt.Errorf("%w: %s", ErrInsufficientBalance, resp.String())
	}
	if resp.StatusCode() >= 300 {
		return types.OrderAck{}, fmt.Errorf("binance submit order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return types.OrderAck{OrderID: strconv.FormatInt(o.OrderID, 10), Status: binanceStatus(o.Status), Raw: o}, nil
}

func binanceOrderType(t types.OrderType) string {
	if t == types.OrderTypeLimit {
		return "LIMIT"
	}
	return "MARKET"
}

func binanceTIF(tif types.TimeInForce) string {
	if tif == types.TIFGTC {
		return "GTC"
	}
	return "GTC" // Binance market orders ignore TIF; LIMIT requires one, default GTC.
}

func (b *BinanceAdapter) GetHistoricalBars(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]types.Bar, error) {
	if err := b.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	var raw [][]any
	resp, err := b.http.R().SetContext(ctx).
		SetQueryParam("symbol", strings.ToUpper(ToBinanceSymbol(symbol))).
		SetQueryParam("interval", binanceInterval(timeframe)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&raw).Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("binance get bars: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("binance get bars: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.Bar, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTimeMs, _ := k[0].(float64)
		open, _ := strconv.ParseFloat(fmt.Sprint(k[1]), 64)
		high, _ := strconv.ParseFloat(fmt.Sprint(k[2]), 64)
		low, _ := strconv.ParseFloat(fmt.Sprint(k[3]), 64)
		closeP, _ := strconv.ParseFloat(fmt.Sprint(k[4]), 64)
		vol, _ := strconv.ParseFloat(fmt.Sprint(k[5]), 64)
		out = append(out, types.Bar{
			Symbol: symbol, Open: open, High: high, Low: low, Close: closeP, Volume: vol,
			Timestamp: time.UnixMilli(int64(openTimeMs)),
		})
	}
	return out, nil
}

func binanceInterval(d time.Duration) string {
	switch {
	case d <= time.Minute:
		return "1m"
	case d <= 5*time.Minute:
		return "5m"
	case d <= time.Hour:
		return "1h"
	default:
		return "1d"
	}
}

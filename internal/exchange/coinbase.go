package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"autohedge/pkg/types"
)

// CoinbaseAdapter implements TradingAPI against Coinbase Advanced Trade.
// Coinbase has no dedicated quote WebSocket channel for every product; the
// market_trades channel is the only one guaranteed available, so
// Capabilities reports SupportsWSQuotes=false and Strategy tolerates the
// missing stream by skipping symbols that never produce a usable quote.
type CoinbaseAdapter struct {
	baseClient
	auth HMACAuth
}

func NewCoinbaseAdapter(baseURL, apiKey, apiSecret, passphrase string, dryRun bool, logger *slog.Logger) *CoinbaseAdapter {
	return &CoinbaseAdapter{
		baseClient: newBaseClient(baseURL, dryRun, logger),
		auth:       HMACAuth{APIKey: apiKey, Secret: apiSecret, Passphrase: passphrase},
	}
}

func (c *CoinbaseAdapter) Name() string { return "coinbase" }

func (c *CoinbaseAdapter) Capabilities() types.ExchangeCapabilities {
	return types.ExchangeCapabilities{
		SupportsNotionalMarketBuy: true,
		SupportsWSQuotes:          false,
		SupportsWSTrades:          true,
		SupportsNews:              false,
	}
}

func (c *CoinbaseAdapter) setAuth(method, path, body string) (ts string) {
	ts = Timestamp()
	prehash := c.auth.CoinbasePreHash(ts, method, path, body)
	sig := c.auth.Sign(prehash)
	c.http.SetHeader("CB-ACCESS-KEY", c.auth.APIKey).
		SetHeader("CB-ACCESS-SIGN", sig).
		SetHeader("CB-ACCESS-TIMESTAMP", ts).
		SetHeader("CB-ACCESS-PASSPHRASE", c.auth.Passphrase)
	return ts
}

type coinbaseAccount struct {
	Accounts []struct {
		Currency         string `json:"currency"`
		AvailableBalance struct {
			Value string `json:"value"`
		} `json:"available_balance"`
	} `json:"accounts"`
}

func (c *CoinbaseAdapter) GetAccount(ctx context.Context) (types.AccountSummary, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.AccountSummary{}, err
	}
	const path = "/api/v3/brokerage/accounts"
	c.setAuth("GET", path, "")
	var acct coinbaseAccount
	resp, err := c.http.R().SetContext(ctx).SetResult(&acct).Get(path)
	if err != nil {
		return types.AccountSummary{}, fmt.Errorf("coinbase get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.AccountSummary{}, fmt.Errorf("coinbase get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	var usd float64
	for _, a := range acct.Accounts {
		if a.Currency == "USD" {
			usd, _ = strconv.ParseFloat(a.AvailableBalance.Value, 64)
			break
		}
	}
	return types.AccountSummary{Cash: usd, PortfolioValue: usd, BuyingPower: usd, FetchedAt: time.Now()}, nil
}

// GetPositions derives synthetic positions from non-quote-currency account
// balances — Coinbase spot has no dedicated positions endpoint.
func (c *CoinbaseAdapter) GetPositions(ctx context.Context) ([]types.VenuePosition, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	const path = "/api/v3/brokerage/accounts"
	c.setAuth("GET", path, "")
	var acct coinbaseAccount
	resp, err := c.http.R().SetContext(ctx).SetResult(&acct).Get(path)
	if err != nil {
		return nil, fmt.Errorf("coinbase get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("coinbase get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.VenuePosition, 0)
	for _, a := range acct.Accounts {
		if a.Currency == "USD" {
			continue
		}
		qty, _ := strconv.ParseFloat(a.AvailableBalance.Value, 64)
		if qty <= 0 {
			continue
		}
		out = append(out, types.VenuePosition{Symbol: FromCoinbaseProductID(a.Currency + "-USD"), Qty: qty})
	}
	return out, nil
}

type coinbaseOrder struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (c *CoinbaseAdapter) GetOrder(ctx context.Context, orderID string) (types.VenueOrder, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.VenueOrder{}, err
	}
	path := "/api/v3/brokerage/orders/historical/" + orderID
	c.setAuth("GET", path, "")
	var wrap struct {
		Order struct {
			OrderID           string `json:"order_id"`
			Status            string `json:"status"`
			FilledSize        string `json:"filled_size"`
			AverageFilledPrice string `json:"average_filled_price"`
		} `json:"order"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&wrap).Get(path)
	if err != nil {
		return types.VenueOrder{}, fmt.Errorf("coinbase get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return types.VenueOrder{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.VenueOrder{}, fmt.Errorf("coinbase get order: status %d: %s", resp.StatusCode(), resp.String())
	}
	filledQty, _ := strconv.ParseFloat(wrap.Order.FilledSize, 64)
	avg, _ := strconv.ParseFloat(wrap.Order.AverageFilledPrice, 64)
	return types.VenueOrder{
		OrderID:   wrap.Order.OrderID,
		Status:    coinbaseStatus(wrap.Order.Status),
		FilledQty: filledQty,
		FilledAvg: avg,
	}, nil
}

func coinbaseStatus(s string) types.OrderStatus {
	switch s {
	case "FILLED":
		return types.OrderStatusFilled
	case "CANCELLED":
		return types.OrderStatusCanceled
	case "EXPIRED":
		return types.OrderStatusExpired
	case "FAILED":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusNew
	}
}

func (c *CoinbaseAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	const path = "/api/v3/brokerage/orders/batch_cancel"
	body := fmt.Sprintf(`{"order_ids":["%s"]}`, orderID)
	c.setAuth("POST", path, body)
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return fmt.Errorf("coinbase cancel order: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("coinbase cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *CoinbaseAdapter) CancelAllOrders(ctx context.Context) error {
	if c.dryRun {
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	const path = "/api/v3/brokerage/orders/historical/batch_cancel"
	c.setAuth("POST", path, "")
	resp, err := c.http.R().SetContext(ctx).Post(path)
	if err != nil {
		return fmt.Errorf("coinbase cancel all orders: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("coinbase cancel all orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *CoinbaseAdapter) SubmitOrder(ctx context.Context, req types.PlaceOrderRequest) (types.OrderAck, error) {
	if c.dryRun {
		c.logger.Info("dry-run: would submit order", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty)
		return types.OrderAck{OrderID: fmt.Sprintf("dry-run-%d", time.Now().UnixNano()), Status: types.OrderStatusFilled}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	productID := ToCoinbaseProductID(req.Symbol)
	side := "BUY"
	if req.Side == types.Sell {
		side = "SELL"
	}

	var orderConfig map[string]any
	if req.OrderType == types.OrderTypeLimit && req.LimitPrice != nil {
		orderConfig = map[string]any{
			"limit_limit_gtc": map[string]any{
				"base_size":   strconv.FormatFloat(req.Qty, 'f', -1, 64),
				"limit_price": strconv.FormatFloat(*req.LimitPrice, 'f', -1, 64),
				"post_only":   false,
			},
		}
	} else {
		orderConfig = map[string]any{
			"market_market_ioc": map[string]any{
				"base_size": strconv.FormatFloat(req.Qty, 'f', -1, 64),
			},
		}
	}

	body := map[string]any{
		"client_order_id":    fmt.Sprintf("autohedge-%d", time.Now().UnixNano()),
		"product_id":         productID,
		"side":               side,
		"order_configuration": orderConfig,
	}

	const path = "/api/v3/brokerage/orders"
	bodyJSON, _ := remarshalToString(body)
	c.setAuth("POST", path, bodyJSON)

	var raw struct {
		Success      bool          `json:"success"`
		OrderID      string        `json:"order_id"`
		SuccessResp  coinbaseOrder `json:"success_response"`
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&raw).Post(path)
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("coinbase submit order: %w", err)
	}
	if IsInsufficientBalance(fmt.Errorf("%s", resp.String())) {
		return types.OrderAck{}, fmt.Errorf("%w: %s", ErrInsufficientBalance, resp.String())
	}
	if resp.StatusCode() >= 300 {
		return types.OrderAck{}, fmt.Errorf("coinbase submit order: status %d: %s", resp.StatusCode(), resp.String())
	}
	status := types.OrderStatusRejected
	if raw.Success {
		status = types.OrderStatusNew
	}
	id := raw.OrderID
	if id == "" {
		id = raw.SuccessResp.OrderID
	}
	return types.OrderAck{OrderID: id, Status: status, Raw: raw}, nil
}

func (c *CoinbaseAdapter) GetHistoricalBars(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]types.Bar, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/api/v3/brokerage/products/" + ToCoinbaseProductID(symbol) + "/candles"
	c.setAuth("GET", path, "")
	var wrap struct {
		Candles []struct {
			Start  string `json:"start"`
			Low    string `json:"low"`
			High   string `json:"high"`
			Open   string `json:"open"`
			Close  string `json:"close"`
			Volume string `json:"volume"`
		} `json:"candles"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("granularity", coinbaseGranularity(timeframe)).
		SetResult(&wrap).Get(path)
	if err != nil {
		return nil, fmt.Errorf("coinbase get bars: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("coinbase get bars: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.Bar, 0, len(wrap.Candles))
	for i, cd := range wrap.Candles {
		if i >= limit {
			break
		}
		open, _ := strconv.ParseFloat(cd.Open, 64)
		high, _ := strconv.ParseFloat(cd.High, 64)
		low, _ := strconv.ParseFloat(cd.Low, 64)
		closeP, _ := strconv.ParseFloat(cd.Close, 64)
		vol, _ := strconv.ParseFloat(cd.Volume, 64)
		startUnix, _ := strconv.ParseInt(cd.Start, 10, 64)
		out = append(out, types.Bar{
			Symbol: symbol, Open: open, High: high, Low: low, Close: closeP, Volume: vol,
			Timestamp: time.Unix(startUnix, 0),
		})
	}
	return out, nil
}

func coinbaseGranularity(d time.Duration) string {
	switch {
	case d <= time.Minute:
		return "ONE_MINUTE"
	case d <= 5*time.Minute:
		return "FIVE_MINUTE"
	case d <= time.Hour:
		return "ONE_HOUR"
	default:
		return "ONE_DAY"
	}
}

func remarshalToString(v any) (string, error) {
	var out string
	b, err := marshalCompact(v)
	if err != nil {
		return "", err
	}
	out = string(b)
	return out, nil
}

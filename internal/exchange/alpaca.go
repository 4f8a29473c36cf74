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

// AlpacaAdapter implements TradingAPI against Alpaca's trading REST API.
// Alpaca crypto orders support notional market buys; equities do not.
type AlpacaAdapter struct {
	baseClient
	stocks bool
}

// NewAlpacaAdapter creates an Alpaca adapter. baseURL is Alpaca's trading
// API base (paper or live); stocks selects equities mode vs crypto mode.
func NewAlpacaAdapter(baseURL, apiKey, apiSecret string, stocks, dryRun bool, logger *slog.Logger) *AlpacaAdapter {
	a := &AlpacaAdapter{baseClient: newBaseClient(baseURL, dryRun, logger), stocks: stocks}
	a.http.SetHeader("APCA-API-KEY-ID", apiKey).SetHeader("APCA-API-SECRET-KEY", apiSecret)
	return a
}

func (a *AlpacaAdapter) Name() string { return "alpaca" }

func (a *AlpacaAdapter) Capabilities() types.ExchangeCapabilities {
	return types.ExchangeCapabilities{
		SupportsNotionalMarketBuy: !a.stocks,
		SupportsWSQuotes:          true,
		SupportsWSTrades:          true,
		SupportsNews:              true,
	}
}

type alpacaAccount struct {
	Cash           string `json:"cash"`
	PortfolioValue string `json:"portfolio_value"`
	BuyingPower    string `json:"buying_power"`
}

func (a *AlpacaAdapter) GetAccount(ctx context.Context) (types.AccountSummary, error) {
	if err := a.rl.Read.Wait(ctx); err != nil {
		return types.AccountSummary{}, err
	}
	var acct alpacaAccount
	resp, err := a.http.R().SetContext(ctx).SetResult(&acct).Get("/v2/account")
	if err != nil {
		return types.AccountSummary{}, fmt.Errorf("alpaca get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.AccountSummary{}, fmt.Errorf("alpaca get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	cash, _ := strconv.ParseFloat(acct.Cash, 64)
	pv, _ := strconv.ParseFloat(acct.PortfolioValue, 64)
	bp, _ := strconv.ParseFloat(acct.BuyingPower, 64)
	return types.AccountSummary{Cash: cash, PortfolioValue: pv, BuyingPower: bp, FetchedAt: time.Now()}, nil
}

type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

func (a *AlpacaAdapter) GetPositions(ctx context.Context) ([]types.VenuePosition, error) {
	if err := a.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	var raw []alpacaPosition
	resp, err := a.http.R().SetContext(ctx).SetResult(&raw).Get("/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("alpaca get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("alpaca get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]types.VenuePosition, 0, len(raw))
	for _, p := range raw {
		qty, _ := strconv.ParseFloat(p.Qty, 64)
		avg, _ := strconv.ParseFloat(p.AvgEntryPrice, 64)
		out = append(out, types.VenuePosition{Symbol: FromAlpacaSymbol(p.Symbol, a.stocks), Qty: qty, AvgEntryPrice: avg})
	}
	return out, nil
}

type alpacaOrder struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	FilledQty  string `json:"filled_qty"`
	FilledAvg  string `json:"filled_avg_price"`
	LimitPrice string `json:"limit_price"`
}

func (a *AlpacaAdapter) GetOrder(ctx context.Context, orderID string) (types.VenueOrder, error) {
	if err := a.rl.Read.Wait(ctx); err != nil {
		return types.VenueOrder{}, err
	}
	var o alpacaOrder
	resp, err := a.http.R().SetContext(ctx).SetResult(&o).Get("/v2/orders/" + orderID)
	if err != nil {
		return types.VenueOrder{}, fmt.Errorf("alpaca get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return types.VenueOrder{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.VenueOrder{}, fmt.Errorf("alpaca get order: status %d: %s", resp.StatusCode(), resp.String())
	}
	filledQty, _ := strconv.ParseFloat(o.FilledQty, 64)
	filledAvg, _ := strconv.ParseFloat(o.FilledAvg, 64)
	limitPrice, _ := strconv.ParseFloat(o.LimitPrice, 64)
	return types.VenueOrder{
		OrderID:    o.ID,
		Status:     alpacaStatus(o.Status),
		FilledQty:  filledQty,
		FilledAvg:  filledAvg,
		LimitPrice: limitPrice,
	}, nil
}

func alpacaStatus(s string) types.OrderStatus {
	switch s {
	case "filled":
		return types.OrderStatusFilled
	case "canceled":
		return types.OrderStatusCanceled
	case "expired":
		return types.OrderStatusExpired
	case "rejected":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusNew
	}
}

func (a *AlpacaAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if a.dryRun {
		return nil
	}
	if err := a.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	resp, err := a.http.R().SetContext(ctx).Delete("/v2/orders/" + orderID)
	if err != nil {
		return fmt.Errorf("alpaca cancel order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("alpaca cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (a *AlpacaAdapter) CancelAllOrders(ctx context.Context) error {
	if a.dryRun {
		return nil
	}
	if err := a.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	resp, err := a.http.R().SetContext(ctx).Delete("/v2/orders")
	if err != nil {
		return fmt.Errorf("alpaca cancel all orders: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("alpaca cancel all orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (a *AlpacaAdapter) SubmitOrder(ctx context.Context, req types.PlaceOrderRequest) (types.OrderAck, error) {
	if a.dryRun {
		a.logger.Info("dry-run: would submit order", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty)
		return types.OrderAck{OrderID: fmt.Sprintf("dry-run-%d", time.Now().UnixNano()), Status: types.OrderStatusFilled}, nil
	}
	if err := a.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	body := map[string]any{
		"symbol":        ToAlpacaSymbol(req.Symbol, a.stocks),
		"qty":           strconv.FormatFloat(req.Qty, 'f', -1, 64),
		"side":          string(req.Side),
		"type":          string(req.OrderType),
		"time_in_force": string(req.TimeInForce),
	}
	if req.LimitPrice != nil {
		body["limit_price"] = strconv.FormatFloat(*req.LimitPrice, 'f', -1, 64)
	}

	var o alpacaOrder
	resp, err := a.http.R().SetContext(ctx).SetBody(body).SetResult(&o).Post("/v2/orders")
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("alpaca submit order: %w", err)
	}
	if resp.StatusCode() == http.StatusForbidden && containsInsufficientBalance(resp.String()) {
		return types.OrderAck{}, fmt.Errorf("%w: %s", ErrInsufficientBalance, resp.String())
	}
	if resp.StatusCode() >= 300 {
		return types.OrderAck{}, fmt.Errorf("alpaca submit order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return types.OrderAck{OrderID: o.ID, Status: alpacaStatus(o.Status), Raw: o}, nil
}

func (a *AlpacaAdapter) GetHistoricalBars(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]types.Bar, error) {
	if err := a.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/v2/stocks/" + ToAlpacaSymbol(symbol, a.stocks) + "/bars"
	if !a.stocks {
		path = "/v1beta3/crypto/us/bars"
	}
	var raw map[string]any
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParam("symbols", ToAlpacaSymbol(symbol, a.stocks)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&raw).Get(path)
	if err != nil {
		return nil, fmt.Errorf("alpaca get bars: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("alpaca get bars: status %d: %s", resp.StatusCode(), resp.String())
	}
	return parseAlpacaBars(symbol, raw)
}

func containsInsufficientBalance(body string) bool {
	return IsInsufficientBalance(fmt.Errorf("%s", body))
}

type alpacaBarRaw struct {
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
	T string  `json:"t"`
}

// parseAlpacaBars normalizes Alpaca's bars response, which nests bars under
// either "bars"->symbol->[] (crypto) or "bars"->[] (single-symbol stocks).
func parseAlpacaBars(symbol string, raw map[string]any) ([]types.Bar, error) {
	barsField, ok := raw["bars"]
	if !ok {
		return nil, nil
	}

	var rawBars []alpacaBarRaw
	switch v := barsField.(type) {
	case map[string]any:
		bySymbol, ok := v[symbol]
		if !ok {
			return nil, nil
		}
		if err := remarshal(bySymbol, &rawBars); err != nil {
			return nil, fmt.Errorf("alpaca parse bars: %w", err)
		}
	case []any:
		if err := remarshal(v, &rawBars); err != nil {
			return nil, fmt.Errorf("alpaca parse bars: %w", err)
		}
	default:
		return nil, nil
	}

	out := make([]types.Bar, 0, len(rawBars))
	for _, b := range rawBars {
		ts, _ := time.Parse(time.RFC3339, b.T)
		out = append(out, types.Bar{
			Symbol: symbol, Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V, Timestamp: ts,
		})
	}
	return out, nil
}

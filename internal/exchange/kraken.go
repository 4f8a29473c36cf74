package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"autohedge/pkg/types"
)

// KrakenAdapter implements TradingAPI against Kraken Spot. Kraken has no
// notional market-buy order type (size is always base-currency quantity),
// so Capabilities reports SupportsNotionalMarketBuy=false and the
// execution engine must always compute a base quantity for this venue.
//
// One KrakenAdapter is shared across goroutines (execution spawns one
// goroutine per order), so nonce must tolerate concurrent increments —
// Kraken rejects any request whose nonce doesn't strictly increase.
type KrakenAdapter struct {
	baseClient
	auth  HMACAuth
	nonce atomic.Int64
}

func NewKrakenAdapter(baseURL, apiKey, apiSecret string, dryRun bool, logger *slog.Logger) *KrakenAdapter {
	k := &KrakenAdapter{
		baseClient: newBaseClient(baseURL, dryRun, logger),
		auth:       HMACAuth{APIKey: apiKey, Secret: apiSecret},
	}
	k.nonce.Store(time.Now().UnixNano())
	return k
}

func (k *KrakenAdapter) Name() string { return "kraken" }

func (k *KrakenAdapter) Capabilities() types.ExchangeCapabilities {
	return types.ExchangeCapabilities{
		SupportsNotionalMarketBuy: false,
		SupportsWSQuotes:          true,
		SupportsWSTrades:          true,
		SupportsNews:              false,
	}
}

func (k *KrakenAdapter) nextNonce() string {
	return strconv.FormatInt(k.nonce.Add(1), 10)
}

func (k *KrakenAdapter) setAuth(path, nonce, postData string) {
	sig := k.auth.Sign(k.auth.KrakenPreHash(path, nonce, postData))
	k.http.SetHeader("API-Key", k.auth.APIKey).SetHeader("API-Sign", sig)
}

type krakenBalanceResp struct {
	Error  []string          `json:"error"`
	Result map[string]string `json:"result"`
}

func (k *KrakenAdapter) GetAccount(ctx context.Context) (types.AccountSummary, error) {
	if err := k.rl.Read.Wait(ctx); err != nil {
		return types.AccountSummary{}, err
	}
	const path = "/0/private/Balance"
	nonce := k.nextNonce()
	k.setAuth(path, nonce, "nonce="+nonce)
	var raw krakenBalanceResp
	resp, err := k.http.R().SetContext(ctx).SetFormData(map[string]string{"nonce": nonce}).SetResult(&raw).Post(path)
	if err != nil {
		return types.AccountSummary{}, fmt.Errorf("kraken get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.AccountSummary{}, fmt.Errorf("kraken get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(raw.Error) > 0 {
		return types.AccountSummary{}, fmt.Errorf("kraken get account: %v", raw.Error)
	}
	usd, _ := strconv.ParseFloat(raw.Result["ZUSD"], 64)
	return types.AccountSummary{Cash: usd, PortfolioValue: usd, BuyingPower: usd, FetchedAt: time.Now()}, nil
}

// GetPositions derives synthetic positions from non-quote-currency
// balances — Kraken spot reports holdings, not discrete positions.
func (k *KrakenAdapter) GetPositions(ctx context.Context) ([]types.VenuePosition, error) {
	if err := k.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	const path = "/0/private/Balance"
	nonce := k.nextNonce()
	k.setAuth(path, nonce, "nonce="+nonce)
	var raw krakenBalanceResp
	resp, err := k.http.R().SetContext(ctx).SetFormData(map[string]string{"nonce": nonce}).SetResult(&raw).Post(path)
	if err != nil {
		return nil, fmt.Errorf("kraken get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("kraken get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(raw.Error) > 0 {
		return nil, fmt.Errorf("kraken get positions: %v", raw.Error)
	}
	out := make([]types.VenuePosition, 0)
	for asset, balStr := range raw.Result {
		if asset == "ZUSD" || asset == "USD" {
			continue
		}
		qty, _ := strconv.ParseFloat(balStr, 64)
		if qty <= 0 {
			continue
		}
		out = append(out, types.VenuePosition{Symbol: FromKrakenPair(asset + "/USD"), Qty: qty})
	}
	return out, nil
}

type krakenOrderQueryResp struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Status    string `json:"status"`
		VolExec   string `json:"vol_exec"`
		Price     string `json:"price"`
		Descr     struct {
			Price string `json:"price"`
		} `json:"descr"`
	} `json:"result"`
}

func (k *KrakenAdapter) GetOrder(ctx context.Context, orderID string) (types.VenueOrder, error) {
	if err := k.rl.Read.Wait(ctx); err != nil {
		return types.VenueOrder{}, err
	}
	const path = "/0/private/QueryOrders"
	nonce := k.nextNonce()
	body := "nonce=" + nonce + "&txid=" + orderID
	k.setAuth(path, nonce, body)
	var raw krakenOrderQueryResp
	resp, err := k.http.R().SetContext(ctx).
		SetFormData(map[string]string{"nonce": nonce, "txid": orderID}).SetResult(&raw).Post(path)
	if err != nil {
		return types.VenueOrder{}, fmt.Errorf("kraken get order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.VenueOrder{}, fmt.Errorf("kraken get order: status %d: %s", resp.StatusCode(), resp.String())
	}
	entry, ok := raw.Result[orderID]
	if !ok {
		return types.VenueOrder{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	filledQty, _ := strconv.ParseFloat(entry.VolExec, 64)
	price, _ := strconv.ParseFloat(entry.Price, 64)
	limitPrice, _ := strconv.ParseFloat(entry.Descr.Price, 64)
	return types.VenueOrder{
		OrderID:    orderID,
		Status:     krakenStatus(entry.Status),
		FilledQty:  filledQty,
		FilledAvg:  price,
		LimitPrice: limitPrice,
	}, nil
}

func krakenStatus(s string) types.OrderStatus {
	switch s {
	case "closed":
		return types.OrderStatusFilled
	case "canceled":
		return types.OrderStatusCanceled
	case "expired":
		return types.OrderStatusExpired
	default:
		return types.OrderStatusNew
	}
}

func (k *KrakenAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if k.dryRun {
		return nil
	}
	if err := k.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	const path = "/0/private/CancelOrder"
	nonce := k.nextNonce()
	body := "nonce=" + nonce + "&txid=" + orderID
	k.setAuth(path, nonce, body)
	var raw struct{ Error []string `json:"error"` }
	resp, err := k.http.R().SetContext(ctx).
		SetFormData(map[string]string{"nonce": nonce, "txid": orderID}).SetResult(&raw).Post(path)
	if err != nil {
		return fmt.Errorf("kraken cancel order: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("kraken cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(raw.Error) > 0 {
		return fmt.Errorf("kraken cancel order: %v", raw.Error)
	}
	return nil
}

func (k *KrakenAdapter) CancelAllOrders(ctx context.Context) error {
	if k.dryRun {
		return nil
	}
	if err := k.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	const path = "/0/private/CancelAll"
	nonce := k.nextNonce()
	k.setAuth(path, nonce, "nonce="+nonce)
	resp, err := k.http.R().SetContext(ctx).SetFormData(map[string]string{"nonce": nonce}).Post(path)
	if err != nil {
		return fmt.Errorf("kraken cancel all orders: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("kraken cancel all orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (k *KrakenAdapter) SubmitOrder(ctx context.Context, req types.PlaceOrderRequest) (types.OrderAck, error) {
	if k.dryRun {
		k.logger.Info("dry-run: would submit order", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty)
		return types.OrderAck{OrderID: fmt.Sprintf("dry-run-%d", time.Now().UnixNano()), Status: types.OrderStatusFilled}, nil
	}
	if err := k.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	const path = "/0/private/AddOrder"
	nonce := k.nextNonce()
	form := map[string]string{
		"nonce":     nonce,
		"pair":      ToKrakenPair(req.Symbol),
		"type":      string(req.Side),
		"ordertype": krakenOrderType(req.OrderType),
		"volume":    strconv.FormatFloat(req.Qty, 'f', -1, 64),
	}
	if req.LimitPrice != nil {
		form["price"] = strconv.FormatFloat(*req.LimitPrice, 'f', -1, 64)
	}
	body := "nonce=" + nonce
	k.setAuth(path, nonce, body)

	var raw struct {
		Error  []string `json:"error"`
		Result struct {
			Txid []string `json:"txid"`
		} `json:"result"`
	}
	resp, err := k.http.R().SetContext(ctx).SetFormData(form).SetResult(&raw).Post(path)
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("kraken submit order: %w", err)
	}
	if IsInsufficientBalance(fmt.Errorf("%s", resp.String())) {
		return types.OrderAck{}, fmt.Errorf("%w: %s", ErrInsufficientBalance, resp.String())
	}
	if resp.StatusCode() >= 300 {
		return types.OrderAck{}, fmt.Errorf("kraken submit order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(raw.Error) > 0 {
		return types.OrderAck{}, fmt.Errorf("kraken submit order: %v", raw.Error)
	}
	id := "unknown"
	if len(raw.Result.Txid) > 0 {
		id = raw.Result.Txid[0]
	}
	return types.OrderAck{OrderID: id, Status: types.OrderStatusNew, Raw: raw}, nil
}

func krakenOrderType(t types.OrderType) string {
	if t == types.OrderTypeLimit {
		return "limit"
	}
	return "market"
}

// krakenOHLCResp mirrors Kraken's OHLC response: Result is keyed by pair
// name (array of candle rows) plus a "last" key holding an integer
// checkpoint timestamp, so it is decoded via json.RawMessage per key
// rather than a single typed map.
type krakenOHLCResp struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

func (k *KrakenAdapter) GetHistoricalBars(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]types.Bar, error) {
	if err := k.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	pair := ToKrakenPair(symbol)
	var raw krakenOHLCResp
	resp, err := k.http.R().SetContext(ctx).
		SetQueryParam("pair", pair).
		SetQueryParam("interval", strconv.Itoa(int(timeframe.Minutes()))).
		SetResult(&raw).Get("/0/public/OHLC")
	if err != nil {
		return nil, fmt.Errorf("kraken get bars: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("kraken get bars: status %d: %s", resp.StatusCode(), resp.String())
	}
	rawRows, ok := raw.Result[pair]
	if !ok {
		return nil, nil
	}
	var rows [][]any
	if err := json.Unmarshal(rawRows, &rows); err != nil {
		return nil, fmt.Errorf("kraken decode bars: %w", err)
	}
	out := make([]types.Bar, 0, len(rows))
	for i, row := range rows {
		if i >= limit || len(row) < 7 {
			continue
		}
		ts, _ := row[0].(float64)
		open, _ := strconv.ParseFloat(fmt.Sprint(row[1]), 64)
		high, _ := strconv.ParseFloat(fmt.Sprint(row[2]), 64)
		low, _ := strconv.ParseFloat(fmt.Sprint(row[3]), 64)
		closeP, _ := strconv.ParseFloat(fmt.Sprint(row[4]), 64)
		vol, _ := strconv.ParseFloat(fmt.Sprint(row[6]), 64)
		out = append(out, types.Bar{
			Symbol: symbol, Open: open, High: high, Low: low, Close: closeP, Volume: vol,
			Timestamp: time.Unix(int64(ts), 0),
		})
	}
	return out, nil
}

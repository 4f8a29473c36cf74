package execution

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"autohedge/internal/bus"
	"autohedge/internal/config"
	"autohedge/internal/llm"
	"autohedge/internal/store"
	"autohedge/internal/tracker"
	"autohedge/pkg/types"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type fakeAPI struct {
	account       types.AccountSummary
	accountErr    error
	submitted     []types.PlaceOrderRequest
	submitErr     error
	nextOrderID   string
	positions     []types.VenuePosition
}

func (f *fakeAPI) Name() string                            { return "fake" }
func (f *fakeAPI) Capabilities() types.ExchangeCapabilities { return types.ExchangeCapabilities{} }
func (f *fakeAPI) GetAccount(ctx context.Context) (types.AccountSummary, error) {
	return f.account, f.accountErr
}
func (f *fakeAPI) GetPositions(ctx context.Context) ([]types.VenuePosition, error) {
	return f.positions, nil
}
func (f *fakeAPI) GetOrder(ctx context.Context, orderID string) (types.VenueOrder, error) {
	return types.VenueOrder{}, nil
}
func (f *fakeAPI) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeAPI) CancelAllOrders(ctx context.Context) error             { return nil }
func (f *fakeAPI) SubmitOrder(ctx context.Context, req types.PlaceOrderRequest) (types.OrderAck, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return types.OrderAck{}, f.submitErr
	}
	id := f.nextOrderID
	if id == "" {
		id = "order-1"
	}
	return types.OrderAck{OrderID: id, Status: types.OrderStatusNew}, nil
}
func (f *fakeAPI) GetHistoricalBars(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]types.Bar, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		TradingMode:  types.ModeCrypto,
		StrategyMode: types.StrategyHFT,
		ChatterLevel: "normal",
		Defaults: config.DefaultsConfig{
			TakeProfitPct:  2.0,
			StopLossPct:    1.0,
			MinOrderAmount: 10,
			MaxOrderAmount: 1000,
		},
		MicroTrade: config.MicroTradeConfig{
			TargetBalancePct:   0.1,
			AggressionBps:      10,
			MinOrderIntervalMs: 0,
			AccountCacheSecs:   30,
			CryptoTimeInForce:  types.TIFGTC,
		},
	}
}

func TestExecuteBuyHFTSubmitsLimitOrderAndTracksPending(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{account: types.AccountSummary{BuyingPower: 1000}}
	st := store.New(50)
	st.UpdateQuote("BTC/USD", types.Quote{Symbol: "BTC/USD", BidPrice: 99, AskPrice: 101})
	tr := tracker.New()
	b := bus.New(10)
	sub := b.Subscribe()
	defer sub.Close()

	e := New(cfg, b, api, st, tr, nil, discardLogger())
	e.executeBuy(context.Background(), types.OrderRequest{Symbol: "BTC/USD", Action: types.Buy, OrderType: types.OrderTypeHFTBuy})

	if len(api.submitted) != 1 {
		t.Fatalf("expected 1 submitted order, got %d", len(api.submitted))
	}
	if api.submitted[0].OrderType != types.OrderTypeLimit {
		t.Errorf("expected limit order, got %v", api.submitted[0].OrderType)
	}

	pending := tr.PendingOrdersForSymbol("BTC/USD")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending order, got %d", len(pending))
	}
	if pending[0].TakeProfit == nil || pending[0].StopLoss == nil {
		t.Fatal("expected tp/sl to be set on the pending order")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("expected an execution event, got error: %v", err)
	}
	if evt.Kind != types.EventExecution {
		t.Fatalf("expected EventExecution, got %v", evt.Kind)
	}
}

func TestExecuteBuySkipsWhenAlreadyHoldingPosition(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{account: types.AccountSummary{BuyingPower: 1000}}
	st := store.New(50)
	st.UpdateQuote("BTC/USD", types.Quote{Symbol: "BTC/USD", BidPrice: 99, AskPrice: 101})
	tr := tracker.New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", Qty: 1})
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, nil, discardLogger())
	e.executeBuy(context.Background(), types.OrderRequest{Symbol: "BTC/USD", Action: types.Buy, OrderType: types.OrderTypeHFTBuy})

	if len(api.submitted) != 0 {
		t.Fatalf("expected no order submitted, got %d", len(api.submitted))
	}
}

func TestExecuteBuySkipsOnMissingQuote(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{account: types.AccountSummary{BuyingPower: 1000}}
	st := store.New(50)
	tr := tracker.New()
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, nil, discardLogger())
	e.executeBuy(context.Background(), types.OrderRequest{Symbol: "BTC/USD", Action: types.Buy, OrderType: types.OrderTypeHFTBuy})

	if len(api.submitted) != 0 {
		t.Fatalf("expected no order submitted, got %d", len(api.submitted))
	}
}

func TestExecuteBuyLLMFilterRejectsSkipsOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MicroTrade.UseLLMFilter = true
	api := &fakeAPI{account: types.AccountSummary{BuyingPower: 1000}}
	st := store.New(50)
	st.UpdateQuote("BTC/USD", types.Quote{Symbol: "BTC/USD", BidPrice: 99, AskPrice: 101})
	tr := tracker.New()
	b := bus.New(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := llm.NewQueue(ctx, rejectingClient{}, 2, 8, discardLogger())

	e := New(cfg, b, api, st, tr, q, discardLogger())
	e.executeBuy(ctx, types.OrderRequest{Symbol: "BTC/USD", Action: types.Buy, OrderType: types.OrderTypeHFTBuy})

	if len(api.submitted) != 0 {
		t.Fatalf("expected no order submitted after LLM filter rejection, got %d", len(api.submitted))
	}
}

type rejectingClient struct{}

func (rejectingClient) Complete(ctx context.Context, systemPrompt, userInput string) (string, error) {
	return "no, do not proceed", nil
}

func TestExecuteSellUsesTrackedPositionQty(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{}
	st := store.New(50)
	st.UpdateQuote("BTC/USD", types.Quote{Symbol: "BTC/USD", BidPrice: 99, AskPrice: 101})
	tr := tracker.New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", Qty: 2.5})
	b := bus.New(10)
	sub := b.Subscribe()
	defer sub.Close()

	e := New(cfg, b, api, st, tr, nil, discardLogger())
	e.executeSell(context.Background(), types.OrderRequest{Symbol: "BTC/USD", Action: types.Sell})

	if len(api.submitted) != 1 {
		t.Fatalf("expected 1 submitted order, got %d", len(api.submitted))
	}
	if api.submitted[0].Qty != 2.5 {
		t.Errorf("expected qty 2.5, got %v", api.submitted[0].Qty)
	}
	if api.submitted[0].OrderType != types.OrderTypeMarket {
		t.Errorf("expected market order, got %v", api.submitted[0].OrderType)
	}
	if tr.HasPosition("BTC/USD") {
		t.Error("expected position to be removed after sell")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Recv(ctx); err != nil {
		t.Fatalf("expected an execution event, got error: %v", err)
	}
}

func TestExecuteSellSkipsWithNoQty(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{}
	st := store.New(50)
	st.UpdateQuote("BTC/USD", types.Quote{Symbol: "BTC/USD", BidPrice: 99, AskPrice: 101})
	tr := tracker.New()
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, nil, discardLogger())
	e.executeSell(context.Background(), types.OrderRequest{Symbol: "BTC/USD", Action: types.Sell})

	if len(api.submitted) != 0 {
		t.Fatalf("expected no order submitted, got %d", len(api.submitted))
	}
}

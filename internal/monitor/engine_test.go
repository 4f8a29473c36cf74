package monitor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"autohedge/internal/bus"
	"autohedge/internal/config"
	"autohedge/internal/exchange"
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
	positions   []types.VenuePosition
	positionErr error
	orders      map[string]types.VenueOrder
	submitted   []types.PlaceOrderRequest
	submitErr   error
	insufficientOnce bool
	canceled   []string
	nextOrderID string
}

func (f *fakeAPI) Name() string                            { return "fake" }
func (f *fakeAPI) Capabilities() types.ExchangeCapabilities { return types.ExchangeCapabilities{} }
func (f *fakeAPI) GetAccount(ctx context.Context) (types.AccountSummary, error) {
	return types.AccountSummary{}, nil
}
func (f *fakeAPI) GetPositions(ctx context.Context) ([]types.VenuePosition, error) {
	return f.positions, f.positionErr
}
func (f *fakeAPI) GetOrder(ctx context.Context, orderID string) (types.VenueOrder, error) {
	return f.orders[orderID], nil
}
func (f *fakeAPI) CancelOrder(ctx context.Context, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}
func (f *fakeAPI) CancelAllOrders(ctx context.Context) error { return nil }
func (f *fakeAPI) SubmitOrder(ctx context.Context, req types.PlaceOrderRequest) (types.OrderAck, error) {
	f.submitted = append(f.submitted, req)
	if f.insufficientOnce {
		f.insufficientOnce = false
		return types.OrderAck{}, exchange.ErrInsufficientBalance
	}
	if f.submitErr != nil {
		return types.OrderAck{}, f.submitErr
	}
	id := f.nextOrderID
	if id == "" {
		id = "sell-1"
	}
	return types.OrderAck{OrderID: id, Status: types.OrderStatusNew}, nil
}
func (f *fakeAPI) GetHistoricalBars(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]types.Bar, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ExitOnQuotes: true,
		Defaults: config.DefaultsConfig{
			TakeProfitPct:            2.0,
			StopLossPct:              1.0,
			LimitOrderExpirationDays: 0,
		},
	}
}

func TestReconcilePendingBuyFillRegistersPositionAndProtectiveSell(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{
		orders: map[string]types.VenueOrder{
			"buy-1": {OrderID: "buy-1", Status: types.OrderStatusFilled, FilledQty: 1.0, FilledAvg: 100},
		},
		nextOrderID: "sell-1",
	}
	st := store.New(50)
	tr := tracker.New()
	tr.AddPendingOrder(types.PendingOrder{OrderID: "buy-1", Symbol: "BTC/USD", Side: types.Buy, LimitPrice: 100, Qty: 1.0, CreatedAt: tracker.Now()})
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, discardLogger())
	e.handleTick(context.Background(), "BTC/USD", 99)

	if tr.HasActivePendingBuy("BTC/USD") {
		t.Fatal("expected pending buy removed after fill")
	}
	pos, ok := tr.GetPosition("BTC/USD")
	if !ok {
		t.Fatal("expected position registered after fill")
	}
	if pos.EntryPrice != 100 || pos.Qty != 1.0 {
		t.Errorf("unexpected position: %+v", pos)
	}
	if pos.OpenOrderID != "sell-1" {
		t.Errorf("expected protective sell order id tracked, got %q", pos.OpenOrderID)
	}
	sell, ok := tr.PendingSellForSymbol("BTC/USD")
	if !ok {
		t.Fatal("expected pending sell registered")
	}
	if sell.StopLoss != nil {
		t.Error("expected pending sell to carry no stop_loss")
	}
	if len(api.submitted) != 1 || api.submitted[0].OrderType != types.OrderTypeLimit {
		t.Errorf("expected one limit sell submitted, got %+v", api.submitted)
	}
}

func TestReconcilePendingBuyExpiresOldOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Defaults.LimitOrderExpirationDays = 1
	api := &fakeAPI{}
	st := store.New(50)
	tr := tracker.New()
	old := tracker.Now().Add(-48 * time.Hour)
	tr.AddPendingOrder(types.PendingOrder{OrderID: "buy-1", Symbol: "BTC/USD", Side: types.Buy, LimitPrice: 100, Qty: 1.0, CreatedAt: old})
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, discardLogger())
	e.handleTick(context.Background(), "BTC/USD", 99)

	if tr.HasActivePendingBuy("BTC/USD") {
		t.Fatal("expected expired pending buy to be removed")
	}
	if len(api.canceled) != 1 {
		t.Fatalf("expected cancel called once, got %d", len(api.canceled))
	}
}

func TestReconcilePendingSellStopLossCancelsAndPublishesMarketExit(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{}
	st := store.New(50)
	tr := tracker.New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", Qty: 1, EntryPrice: 100, TakeProfit: 110, StopLoss: 95, OpenOrderID: "sell-1"})
	sl := 96.0
	tr.AddPendingOrder(types.PendingOrder{OrderID: "sell-1", Symbol: "BTC/USD", Side: types.Sell, LimitPrice: 110, Qty: 1, CreatedAt: tracker.Now(), StopLoss: &sl})
	b := bus.New(10)
	sub := b.Subscribe()
	defer sub.Close()

	e := New(cfg, b, api, st, tr, discardLogger())
	e.handleTick(context.Background(), "BTC/USD", 95)

	if tr.HasActivePendingBuy("BTC/USD") {
		t.Fatal("unexpected pending buy")
	}
	if _, ok := tr.PendingSellForSymbol("BTC/USD"); ok {
		t.Fatal("expected pending sell removed on stop-loss cancel")
	}
	if len(api.canceled) != 1 {
		t.Fatalf("expected the resting sell to be canceled, got %d cancels", len(api.canceled))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("expected a market exit order event, got error: %v", err)
	}
	if evt.Kind != types.EventOrder || evt.Order.OrderType != types.OrderTypeMarket {
		t.Fatalf("expected market sell order event, got %+v", evt)
	}
}

func TestReconcilePendingSellFilledRemovesPositionAndPending(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{
		orders: map[string]types.VenueOrder{
			"sell-1": {OrderID: "sell-1", Status: types.OrderStatusFilled, FilledQty: 1},
		},
	}
	st := store.New(50)
	tr := tracker.New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", Qty: 1, EntryPrice: 100, TakeProfit: 110, StopLoss: 95, OpenOrderID: "sell-1"})
	tr.AddPendingOrder(types.PendingOrder{OrderID: "sell-1", Symbol: "BTC/USD", Side: types.Sell, LimitPrice: 110, Qty: 1, CreatedAt: tracker.Now()})
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, discardLogger())
	e.handleTick(context.Background(), "BTC/USD", 111)

	if tr.HasPosition("BTC/USD") {
		t.Fatal("expected position removed after sell fill")
	}
	if _, ok := tr.PendingSellForSymbol("BTC/USD"); ok {
		t.Fatal("expected pending sell removed after fill")
	}
}

func TestPolicePositionRecreatesOrphanedExit(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{
		positions:   []types.VenuePosition{{Symbol: "BTC/USD", Qty: 1, AvgEntryPrice: 100}},
		nextOrderID: "sell-2",
	}
	st := store.New(50)
	tr := tracker.New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", Qty: 1, EntryPrice: 100, TakeProfit: 110, StopLoss: 95})
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, discardLogger())
	e.handleTick(context.Background(), "BTC/USD", 101)

	pos, ok := tr.GetPosition("BTC/USD")
	if !ok {
		t.Fatal("expected position still tracked")
	}
	if pos.OpenOrderID != "sell-2" {
		t.Errorf("expected recreated protective order tracked, got %q", pos.OpenOrderID)
	}
	if pos.RecreateAttempts != 1 {
		t.Errorf("expected recreate_attempts incremented, got %d", pos.RecreateAttempts)
	}
	if len(api.submitted) != 1 || api.submitted[0].OrderType != types.OrderTypeLimit {
		t.Errorf("expected one protective limit sell submitted, got %+v", api.submitted)
	}
}

func TestPolicePositionAbandonsAfterMaxRecreateAttempts(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{positions: []types.VenuePosition{{Symbol: "BTC/USD", Qty: 1, AvgEntryPrice: 100}}}
	st := store.New(50)
	tr := tracker.New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", Qty: 1, EntryPrice: 100, TakeProfit: 110, StopLoss: 95, RecreateAttempts: maxRecreateAttempts})
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, discardLogger())
	e.handleTick(context.Background(), "BTC/USD", 101)

	if tr.HasPosition("BTC/USD") {
		t.Fatal("expected position abandoned after exhausting recreate attempts")
	}
}

func TestPolicePositionTakeProfitBreachPublishesExit(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{}
	st := store.New(50)
	tr := tracker.New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", Qty: 1, EntryPrice: 100, TakeProfit: 110, StopLoss: 95, OpenOrderID: "sell-1"})
	b := bus.New(10)
	sub := b.Subscribe()
	defer sub.Close()

	e := New(cfg, b, api, st, tr, discardLogger())
	e.handleTick(context.Background(), "BTC/USD", 111)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("expected exit order event, got error: %v", err)
	}
	if evt.Kind != types.EventOrder || evt.Order.Action != types.Sell {
		t.Fatalf("expected a sell exit order event, got %+v", evt)
	}
	pos, _ := tr.GetPosition("BTC/USD")
	if !pos.IsClosing {
		t.Error("expected position marked as closing")
	}
}

func TestRecreateProtectiveExitRetriesOnInsufficientBalance(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{
		positions:        []types.VenuePosition{{Symbol: "BTC/USD", Qty: 0.9, AvgEntryPrice: 100}},
		insufficientOnce: true,
		nextOrderID:      "sell-3",
	}
	st := store.New(50)
	tr := tracker.New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", Qty: 1, EntryPrice: 100, TakeProfit: 110, StopLoss: 95})
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, discardLogger())
	e.recreateProtectiveExit(context.Background(), "BTC/USD")

	if len(api.submitted) != 2 {
		t.Fatalf("expected a retry submission, got %d submissions", len(api.submitted))
	}
	if api.submitted[1].Qty != 0.9 {
		t.Errorf("expected retry to use reconciled qty 0.9, got %v", api.submitted[1].Qty)
	}
	pos, _ := tr.GetPosition("BTC/USD")
	if pos.OpenOrderID != "sell-3" {
		t.Errorf("expected protective order tracked after retry, got %q", pos.OpenOrderID)
	}
}

func TestRecreateProtectiveExitRemovesPositionWhenVenueShowsNoneOpen(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{}
	st := store.New(50)
	tr := tracker.New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", Qty: 1, EntryPrice: 100, TakeProfit: 110, StopLoss: 95})
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, discardLogger())
	e.recreateProtectiveExit(context.Background(), "BTC/USD")

	if tr.HasPosition("BTC/USD") {
		t.Fatal("expected position removed when the venue reports it closed out-of-band")
	}
}

func TestInitialSyncAdoptsUntrackedVenuePosition(t *testing.T) {
	cfg := testConfig()
	api := &fakeAPI{
		positions:   []types.VenuePosition{{Symbol: "ETH/USD", Qty: 2, AvgEntryPrice: 2000}},
		nextOrderID: "sell-4",
	}
	st := store.New(50)
	tr := tracker.New()
	b := bus.New(10)

	e := New(cfg, b, api, st, tr, discardLogger())
	e.InitialSync(context.Background())

	pos, ok := tr.GetPosition("ETH/USD")
	if !ok {
		t.Fatal("expected adopted position")
	}
	if pos.TakeProfit <= pos.EntryPrice || pos.StopLoss >= pos.EntryPrice {
		t.Errorf("expected tp/sl derived from default pcts around entry, got %+v", pos)
	}
	if pos.OpenOrderID != "sell-4" {
		t.Errorf("expected protective exit synthesized, got %q", pos.OpenOrderID)
	}
}

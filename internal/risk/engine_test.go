package risk

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"autohedge/internal/bus"
	"autohedge/internal/llm"
	"autohedge/pkg/types"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type fakeAPI struct {
	account types.AccountSummary
	err     error
}

func (f fakeAPI) Name() string                             { return "fake" }
func (f fakeAPI) Capabilities() types.ExchangeCapabilities  { return types.ExchangeCapabilities{} }
func (f fakeAPI) GetAccount(ctx context.Context) (types.AccountSummary, error) {
	return f.account, f.err
}
func (f fakeAPI) GetPositions(ctx context.Context) ([]types.VenuePosition, error) { return nil, nil }
func (f fakeAPI) GetOrder(ctx context.Context, orderID string) (types.VenueOrder, error) {
	return types.VenueOrder{}, nil
}
func (f fakeAPI) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f fakeAPI) CancelAllOrders(ctx context.Context) error             { return nil }
func (f fakeAPI) SubmitOrder(ctx context.Context, req types.PlaceOrderRequest) (types.OrderAck, error) {
	return types.OrderAck{}, nil
}
func (f fakeAPI) GetHistoricalBars(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]types.Bar, error) {
	return nil, nil
}

type fakeRiskClient struct {
	response string
}

func (f fakeRiskClient) Complete(ctx context.Context, systemPrompt, userInput string) (string, error) {
	return f.response, nil
}

func TestParseMarketContext(t *testing.T) {
	sl, tp := parseMarketContext("tp=105.5, sl=98.25")
	if sl == nil || *sl != 98.25 {
		t.Fatalf("expected stop_loss 98.25, got %v", sl)
	}
	if tp == nil || *tp != 105.5 {
		t.Fatalf("expected take_profit 105.5, got %v", tp)
	}
}

func TestParseMarketContextMissingFields(t *testing.T) {
	sl, tp := parseMarketContext("nonsense")
	if sl != nil || tp != nil {
		t.Fatalf("expected nil/nil for unparseable context, got sl=%v tp=%v", sl, tp)
	}
}

func TestParseRiskResponseExtractsJSONAmidProse(t *testing.T) {
	resp := `Sure, here is my assessment: {"approved":true,"stop_loss":90.0,"take_profit":110.0,"risk_reasoning":"fine"} done.`
	sl, tp := parseRiskResponse(resp)
	if sl == nil || *sl != 90.0 {
		t.Fatalf("expected stop_loss 90.0, got %v", sl)
	}
	if tp == nil || *tp != 110.0 {
		t.Fatalf("expected take_profit 110.0, got %v", tp)
	}
}

func TestParseRiskResponseNoJSON(t *testing.T) {
	sl, tp := parseRiskResponse("no json here at all")
	if sl != nil || tp != nil {
		t.Fatalf("expected nil/nil, got sl=%v tp=%v", sl, tp)
	}
}

func TestAssessHFTAlwaysApproves(t *testing.T) {
	b := bus.New(10)
	sub := b.Subscribe()
	defer sub.Close()

	e := New(b, fakeAPI{}, nil, discardLogger())
	e.assessHFT(types.AnalysisSignal{
		Symbol:        "BTC/USD",
		Signal:        types.SignalBuy,
		Thesis:        "HFT edge 12.0bps over 10-quote lookback",
		MarketContext: "tp=101.0, sl=99.0",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("expected an order event, got error: %v", err)
	}
	if evt.Kind != types.EventOrder || evt.Order == nil {
		t.Fatalf("expected EventOrder, got %+v", evt)
	}
	if evt.Order.OrderType != types.OrderTypeHFTBuy {
		t.Errorf("expected hft_buy order type, got %v", evt.Order.OrderType)
	}
	if evt.Order.StopLoss == nil || *evt.Order.StopLoss != 99.0 {
		t.Errorf("expected stop_loss 99.0, got %v", evt.Order.StopLoss)
	}
}

func TestAssessLLMPublishesOrderOnApproval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(10)
	sub := b.Subscribe()
	defer sub.Close()

	q := llm.NewQueue(ctx, fakeRiskClient{response: `{"approved":true,"stop_loss":95.0,"take_profit":115.0}`}, 2, 8, discardLogger())
	e := New(b, fakeAPI{account: types.AccountSummary{Cash: 1000, PortfolioValue: 5000}}, q, discardLogger())

	e.assessLLM(ctx, types.AnalysisSignal{Symbol: "ETH/USD", Signal: types.SignalBuy, Thesis: "strong breakout"})

	recvCtx, recvCancel := context.WithTimeout(ctx, time.Second)
	defer recvCancel()
	evt, err := sub.Recv(recvCtx)
	if err != nil {
		t.Fatalf("expected an order event, got error: %v", err)
	}
	if evt.Order == nil || evt.Order.OrderType != types.OrderTypeMarket {
		t.Fatalf("expected market order, got %+v", evt.Order)
	}
	if evt.Order.TakeProfit == nil || *evt.Order.TakeProfit != 115.0 {
		t.Errorf("expected take_profit 115.0, got %v", evt.Order.TakeProfit)
	}
}

func TestAssessLLMRejectsWhenNotApproved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(10)
	sub := b.Subscribe()
	defer sub.Close()

	q := llm.NewQueue(ctx, fakeRiskClient{response: `{"approved":false,"risk_reasoning":"too large"}`}, 2, 8, discardLogger())
	e := New(b, fakeAPI{}, q, discardLogger())

	e.assessLLM(ctx, types.AnalysisSignal{Symbol: "ETH/USD", Signal: types.SignalBuy, Thesis: "weak setup"})

	recvCtx, recvCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer recvCancel()
	if _, err := sub.Recv(recvCtx); err == nil {
		t.Fatal("expected no order to be published for a rejected proposal")
	}
}

func TestAssessLLMSkipsOnAccountFetchError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(10)
	sub := b.Subscribe()
	defer sub.Close()

	q := llm.NewQueue(ctx, fakeRiskClient{response: `{"approved":true}`}, 2, 8, discardLogger())
	e := New(b, fakeAPI{err: context.DeadlineExceeded}, q, discardLogger())

	e.assessLLM(ctx, types.AnalysisSignal{Symbol: "ETH/USD", Thesis: "x"})

	recvCtx, recvCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer recvCancel()
	if _, err := sub.Recv(recvCtx); err == nil {
		t.Fatal("expected no order to be published when the account fetch fails")
	}
}

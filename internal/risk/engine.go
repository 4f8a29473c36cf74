// Package risk enriches strategy signals into unsized order intents
// (Qty 0). It never sizes a position (that's the execution engine's job);
// it decides whether to trade at all and attaches stop_loss/take_profit.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"autohedge/internal/bus"
	"autohedge/internal/exchange"
	"autohedge/internal/llm"
	"autohedge/pkg/types"
)

// Engine is the Risk Gate. One Engine subscribes to EventSignal and
// publishes EventOrder for every signal it approves.
type Engine struct {
	b        *bus.Bus
	exchange exchange.TradingAPI
	queue    *llm.Queue
	logger   *slog.Logger
}

// New builds a Risk Gate. queue may be nil only when no signal this process
// will ever see carries a non-"HFT" thesis.
func New(b *bus.Bus, api exchange.TradingAPI, queue *llm.Queue, logger *slog.Logger) *Engine {
	return &Engine{b: b, exchange: api, queue: queue, logger: logger.With("component", "risk")}
}

// Run subscribes to the bus and assesses every signal until ctx is
// canceled. Each signal is assessed in its own goroutine so a slow LLM
// Risk-agent call never delays evaluation of the next signal.
func (e *Engine) Run(ctx context.Context) {
	sub := e.b.Subscribe()
	defer sub.Close()

	for {
		evt, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if evt.Kind == types.EventLagged {
			e.logger.Warn("lagged on bus, resuming from next event", "skipped", evt.Skipped)
			continue
		}
		if evt.Kind != types.EventSignal || evt.Signal == nil {
			continue
		}
		sig := *evt.Signal
		go e.assess(ctx, sig)
	}
}

func (e *Engine) assess(ctx context.Context, sig types.AnalysisSignal) {
	if strings.HasPrefix(sig.Thesis, "HFT") {
		e.assessHFT(sig)
		return
	}
	e.assessLLM(ctx, sig)
}

// assessHFT implements the fast path: tp=/sl= are parsed directly out of
// MarketContext, no LLM call and no account fetch. Always approved — the
// Strategy engine already decided the edge clears its threshold.
func (e *Engine) assessHFT(sig types.AnalysisSignal) {
	stopLoss, takeProfit := parseMarketContext(sig.MarketContext)
	e.logger.Debug("HFT fast-approve", "symbol", sig.Symbol, "stop_loss", stopLoss, "take_profit", takeProfit)

	order := types.OrderRequest{
		Symbol:     sig.Symbol,
		Action:     types.Buy,
		OrderType:  types.OrderTypeHFTBuy,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
	e.publishOrder(order)
}

// assessLLM implements the slow path: fetch the account, ask the Risk
// agent to approve the proposal, and on approval extract stop_loss/
// take_profit from its (lenient, best-effort) JSON response.
func (e *Engine) assessLLM(ctx context.Context, sig types.AnalysisSignal) {
	account, err := e.exchange.GetAccount(ctx)
	if err != nil {
		e.logger.Error("risk: failed to fetch account", "symbol", sig.Symbol, "error", err)
		return
	}

	input := fmt.Sprintf(
		"Asset: %s\nAccount Cash: %.2f\nPortfolio Value: %.2f\nThesis: %s",
		sig.Symbol, account.Cash, account.PortfolioValue, sig.Thesis,
	)

	resp, err := llm.Risk.RunHighPriority(ctx, e.queue, input)
	if err != nil {
		e.logger.Error("risk agent failed", "symbol", sig.Symbol, "error", err)
		return
	}

	lower := strings.ToLower(resp)
	if !strings.Contains(lower, "approved") && !strings.Contains(lower, "true") {
		e.logger.Info("risk rejected trade", "symbol", sig.Symbol, "response", resp)
		return
	}

	stopLoss, takeProfit := parseRiskResponse(resp)
	e.logger.Info("risk approved trade", "symbol", sig.Symbol, "stop_loss", stopLoss, "take_profit", takeProfit)

	order := types.OrderRequest{
		Symbol:     sig.Symbol,
		Action:     types.Buy,
		OrderType:  types.OrderTypeMarket,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
	e.publishOrder(order)
}

func (e *Engine) publishOrder(order types.OrderRequest) {
	if _, err := e.b.Publish(types.Event{Kind: types.EventOrder, Order: &order}); err != nil {
		e.logger.Debug("publish order: no subscribers", "symbol", order.Symbol)
	}
}

// parseMarketContext extracts "tp=..., sl=..." from an HFT signal's free
// text market context. Either may be absent.
func parseMarketContext(ctx string) (stopLoss, takeProfit *float64) {
	for _, part := range strings.Split(ctx, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "tp="):
			if v, err := strconv.ParseFloat(strings.TrimPrefix(part, "tp="), 64); err == nil {
				takeProfit = &v
			}
		case strings.HasPrefix(part, "sl="):
			if v, err := strconv.ParseFloat(strings.TrimPrefix(part, "sl="), 64); err == nil {
				stopLoss = &v
			}
		}
	}
	return stopLoss, takeProfit
}

// parseRiskResponse does a best-effort extraction of stop_loss/take_profit
// from the Risk agent's free-form JSON reply, tolerating extra prose around
// the JSON object.
func parseRiskResponse(resp string) (stopLoss, takeProfit *float64) {
	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start < 0 || end < start {
		return nil, nil
	}
	var payload struct {
		StopLoss   *float64 `json:"stop_loss"`
		TakeProfit *float64 `json:"take_profit"`
	}
	if err := json.Unmarshal([]byte(resp[start:end+1]), &payload); err != nil {
		return nil, nil
	}
	return payload.StopLoss, payload.TakeProfit
}

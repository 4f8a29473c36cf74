// Package execution implements the Execution Engine: turns a risk-approved
// OrderRequest into a sized, priced, submitted venue order, and updates the
// position tracker so the Monitor has something to watch.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"autohedge/internal/bus"
	"autohedge/internal/config"
	"autohedge/internal/exchange"
	"autohedge/internal/llm"
	"autohedge/internal/store"
	"autohedge/internal/tracker"
	"autohedge/pkg/types"
)

// Engine is the Execution Engine. One Engine subscribes to EventOrder and
// publishes EventExecution for every order it submits.
type Engine struct {
	cfg      *config.Config
	b        *bus.Bus
	exchange exchange.TradingAPI
	store    *store.Store
	tracker  *tracker.Tracker
	queue    *llm.Queue
	logger   *slog.Logger

	accountCache *AccountCache
	rateLimiter  *exchange.SymbolRateLimiter
}

// New builds an Execution Engine.
func New(cfg *config.Config, b *bus.Bus, api exchange.TradingAPI, st *store.Store, tr *tracker.Tracker, queue *llm.Queue, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:          cfg,
		b:            b,
		exchange:     api,
		store:        st,
		tracker:      tr,
		queue:        queue,
		logger:       logger.With("component", "execution"),
		accountCache: NewAccountCache(api, cfg.MicroTrade.AccountCacheTTL()),
		rateLimiter:  exchange.NewSymbolRateLimiter(cfg.MicroTrade.MinOrderIntervalDuration()),
	}
}

// Run subscribes to the bus and executes every order until ctx is
// canceled. Each order is handled in its own goroutine so a slow venue
// call never delays the next order's evaluation.
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
		if evt.Kind != types.EventOrder || evt.Order == nil {
			continue
		}
		req := *evt.Order
		go e.execute(ctx, req)
	}
}

func (e *Engine) execute(ctx context.Context, req types.OrderRequest) {
	if req.Action == types.Sell {
		e.executeSell(ctx, req)
		return
	}
	e.executeBuy(ctx, req)
}

// ---------------------------------------------------------------------
// Sell path
// ---------------------------------------------------------------------

func (e *Engine) executeSell(ctx context.Context, req types.OrderRequest) {
	quote, ok := e.store.GetLatestQuote(req.Symbol)
	if !ok || quote.BidPrice <= 0 {
		e.logger.Error("execution: no price for sell", "symbol", req.Symbol)
		return
	}

	qty := req.Qty
	if qty <= 0 {
		if pos, ok := e.tracker.GetPosition(req.Symbol); ok {
			qty = pos.Qty
		} else if positions, err := e.exchange.GetPositions(ctx); err == nil {
			for _, p := range positions {
				if p.Symbol == req.Symbol {
					qty = p.Qty
					break
				}
			}
		}
	}
	if qty <= 0 {
		e.logger.Error("execution: no qty for sell", "symbol", req.Symbol)
		return
	}

	tif := types.TIFDay
	if e.cfg.TradingMode == types.ModeCrypto {
		tif = types.TIFGTC
	}

	ack, err := e.exchange.SubmitOrder(ctx, types.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Side:        types.Sell,
		Qty:         qty,
		OrderType:   types.OrderTypeMarket,
		TimeInForce: tif,
	})
	if err != nil {
		e.logger.Error("execution: sell failed", "symbol", req.Symbol, "error", err)
		return
	}

	e.tracker.RemovePosition(req.Symbol)
	e.publishExecution(types.ExecutionReport{
		Symbol:  req.Symbol,
		OrderID: ack.OrderID,
		Status:  ack.Status,
		Side:    types.Sell,
		Price:   floatPtr(quote.BidPrice),
		Qty:     floatPtr(qty),
	})
}

// ---------------------------------------------------------------------
// Buy path (spec section 4.6)
// ---------------------------------------------------------------------

func (e *Engine) executeBuy(ctx context.Context, req types.OrderRequest) {
	if !e.rateLimiter.TryAcquire(req.Symbol) {
		e.chatter("rate limited for %s", req.Symbol)
		return
	}

	if e.tracker.HasPosition(req.Symbol) {
		e.chatter("skip %s: already have position", req.Symbol)
		return
	}
	if e.tracker.HasActivePendingBuy(req.Symbol) {
		e.chatter("skip %s: pending order exists", req.Symbol)
		return
	}

	quote, ok := e.store.GetLatestQuote(req.Symbol)
	if !ok || quote.BidPrice <= 0 || quote.AskPrice <= 0 {
		e.logger.Error("execution: no valid quote for buy", "symbol", req.Symbol)
		return
	}

	limitPrice := aggressiveLimitPrice(quote.BidPrice, quote.AskPrice, types.Buy, e.cfg.MicroTrade.AggressionBps)

	buyingPower, err := e.accountCache.BuyingPower(ctx)
	if err != nil || buyingPower <= 0 {
		e.logger.Error("execution: no buying power available", "symbol", req.Symbol, "error", err)
		return
	}

	sizing, ok := computeOrderSizing(limitPrice, buyingPower, e.cfg.Defaults.MinOrderAmount, e.cfg.Defaults.MaxOrderAmount, e.cfg.MicroTrade.TargetBalancePct)
	if !ok {
		e.logger.Error("execution: cannot size order", "symbol", req.Symbol, "buying_power", buyingPower)
		return
	}

	isHFT := req.OrderType == types.OrderTypeHFTBuy || e.cfg.StrategyMode == types.StrategyHFT
	orderType, proceed := e.decideOrderType(ctx, req.Symbol, isHFT)
	if !proceed {
		return
	}

	tif := types.TIFDay
	if e.cfg.TradingMode == types.ModeCrypto {
		tif = e.cfg.MicroTrade.CryptoTimeInForce
	}

	var limitPriceForOrder *float64
	if orderType == types.OrderTypeLimit {
		limitPriceForOrder = floatPtr(limitPrice)
	}

	e.chatter("order %s %s qty=%.6f @ %.4f ($%.2f)", orderType, req.Symbol, sizing.Qty, limitPrice, sizing.Notional)

	ack, err := e.exchange.SubmitOrder(ctx, types.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Side:        types.Buy,
		Qty:         sizing.Qty,
		OrderType:   orderType,
		LimitPrice:  limitPriceForOrder,
		TimeInForce: tif,
	})
	if err != nil {
		e.logger.Error("execution: buy failed", "symbol", req.Symbol, "error", err)
		return
	}

	e.accountCache.Invalidate()

	// TP/SL are always computed from the actual fill/limit price, never
	// the (possibly stale) signal-time mid that req.StopLoss/TakeProfit
	// carry — spec section 4.6.
	tpPct := e.cfg.TakeProfitPct(req.Symbol)
	slPct := e.cfg.StopLossPct(req.Symbol)
	stopLoss := limitPrice * (1 - slPct/100)
	takeProfit := limitPrice * (1 + tpPct/100)

	if orderType == types.OrderTypeLimit {
		e.tracker.AddPendingOrder(types.PendingOrder{
			OrderID:    ack.OrderID,
			Symbol:     req.Symbol,
			Side:       types.Buy,
			LimitPrice: limitPrice,
			Qty:        sizing.Qty,
			CreatedAt:  tracker.Now(),
			StopLoss:   floatPtr(stopLoss),
			TakeProfit: floatPtr(takeProfit),
		})
	} else {
		e.tracker.SetPosition(types.PositionInfo{
			Symbol:       req.Symbol,
			EntryPrice:   limitPrice,
			Qty:          sizing.Qty,
			StopLoss:     stopLoss,
			TakeProfit:   takeProfit,
			EntryTime:    tracker.Now(),
			Side:         types.Buy,
			OpenOrderID:  ack.OrderID,
			HighestPrice: limitPrice,
		})
	}

	e.publishExecution(types.ExecutionReport{
		Symbol:  req.Symbol,
		OrderID: ack.OrderID,
		Status:  ack.Status,
		Side:    types.Buy,
		Price:   floatPtr(limitPrice),
		Qty:     floatPtr(sizing.Qty),
	})
}

// decideOrderType resolves which order type to submit for a buy, and
// whether to proceed at all, given the strategy mode and LLM-filter
// configuration (spec section 4.6):
//   - pure HFT, no filter: always a limit order
//   - HFT with LLM filter: ask the Execution agent a fast yes/no
//   - otherwise (LLM/Hybrid path): ask the Execution agent for a full
//     action/order_type decision; "sell" or a parse failure aborts
//
// Every buy that proceeds is forced to a limit order (spec section 4.6
// step 8) regardless of what the agent nominates, overriding the
// original source's market-order option on the full-LLM path.
func (e *Engine) decideOrderType(ctx context.Context, symbol string, isHFT bool) (types.OrderType, bool) {
	if isHFT && !e.cfg.MicroTrade.UseLLMFilter {
		return types.OrderTypeLimit, true
	}

	if isHFT {
		approved := e.llmValidate(ctx, symbol)
		if !approved {
			e.chatter("LLM filter rejected trade for %s", symbol)
			return "", false
		}
		return types.OrderTypeLimit, true
	}

	action, ok := e.llmDecide(ctx, symbol)
	if !ok {
		return "", false
	}
	if action != types.Buy {
		e.chatter("agent decided %q for %s, skipping", action, symbol)
		return "", false
	}
	return types.OrderTypeLimit, true
}

// llmValidate asks the Execution agent a quick yes/no for an HFT trade.
// On agent failure it defaults to approving the trade, matching the
// original source's "fail open" behavior for this lightweight check.
func (e *Engine) llmValidate(ctx context.Context, symbol string) bool {
	input := fmt.Sprintf(
		"Quick validation for %s trade.\nStrategy: HFT micro-trade, targeting %.1fbps profit.\nCurrent spread acceptable.\nShould we proceed? Reply with just 'yes' or 'no'.",
		symbol, e.cfg.HFT.TakeProfitBps,
	)
	resp, err := llm.Execution.RunHighPriority(ctx, e.queue, input)
	if err != nil {
		e.logger.Warn("execution: llm validation failed, defaulting to approve", "symbol", symbol, "error", err)
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(resp))
	if strings.HasPrefix(lower, "no") {
		return false
	}
	return strings.Contains(lower, "yes") || strings.Contains(lower, "proceed") || strings.Contains(lower, "approve")
}

type executionOutput struct {
	Action string `json:"action"`
}

// llmDecide asks the Execution agent for a full action decision on the
// LLM/Hybrid path. Note that order_type is always forced to limit by the
// caller regardless of what the agent proposes (spec section 4.6).
func (e *Engine) llmDecide(ctx context.Context, symbol string) (types.Side, bool) {
	input := fmt.Sprintf("Symbol: %s\nRisk Analysis: Approved\nAction: Create Order JSON", symbol)
	resp, err := llm.Execution.RunHighPriority(ctx, e.queue, input)
	if err != nil {
		e.logger.Error("execution: llm decision failed", "symbol", symbol, "error", err)
		return "", false
	}

	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start < 0 || end < start {
		return "", false
	}
	var out executionOutput
	if err := json.Unmarshal([]byte(resp[start:end+1]), &out); err != nil {
		return "", false
	}
	return types.Side(strings.ToLower(out.Action)), true
}

func (e *Engine) publishExecution(report types.ExecutionReport) {
	if _, err := e.b.Publish(types.Event{Kind: types.EventExecution, Execution: &report}); err != nil {
		e.logger.Debug("publish execution: no subscribers", "symbol", report.Symbol)
	}
}

func (e *Engine) chatter(format string, args ...any) {
	if e.cfg.ChatterLevel == "low" {
		return
	}
	e.logger.Info(fmt.Sprintf(format, args...))
}

func floatPtr(v float64) *float64 { return &v }

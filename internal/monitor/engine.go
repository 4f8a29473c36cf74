// Package monitor implements the Position Monitor: pending-order
// reconciliation, position policing (TP/SL/orphan detection), protective
// exit-order recreation, and initial synchronization against the venue.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"autohedge/internal/bus"
	"autohedge/internal/config"
	"autohedge/internal/exchange"
	"autohedge/internal/store"
	"autohedge/internal/tracker"
	"autohedge/pkg/types"
)

// checkRateLimit bounds how often a single pending order is re-polled
// against the venue (spec section 4.7, "per-order check-rate limit").
const checkRateLimit = 2 * time.Second

// recreateCooldown bounds how often an orphaned position's protective
// exit order is retried.
const recreateCooldown = 30 * time.Second

// maxRecreateAttempts bounds the orphan-recreate retry budget (spec.md's
// explicit adoption of the bounded option, see DESIGN.md).
const maxRecreateAttempts = 3

// pollInterval drives the fallback polling mode when exit_on_quotes is
// false, mirroring the donor's 10s position-check cadence.
const pollInterval = 10 * time.Second

// Engine is the Position Monitor.
type Engine struct {
	cfg      *config.Config
	b        *bus.Bus
	exchange exchange.TradingAPI
	store    *store.Store
	tracker  *tracker.Tracker
	logger   *slog.Logger
}

// New builds a Position Monitor.
func New(cfg *config.Config, b *bus.Bus, api exchange.TradingAPI, st *store.Store, tr *tracker.Tracker, logger *slog.Logger) *Engine {
	return &Engine{cfg: cfg, b: b, exchange: api, store: st, tracker: tr, logger: logger.With("component", "monitor")}
}

// Run performs initial synchronization against the venue, then drives
// ticks either from bus events (quote-driven, the default) or a fixed
// poll interval (fallback, when exit_on_quotes is false), until ctx is
// canceled.
func (e *Engine) Run(ctx context.Context) {
	e.InitialSync(ctx)

	if !e.cfg.ExitOnQuotes {
		e.runPolling(ctx)
		return
	}

	sub := e.b.Subscribe()
	defer sub.Close()

	for {
		evt, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		switch evt.Kind {
		case types.EventLagged:
			e.logger.Warn("lagged on bus, resuming from next event", "skipped", evt.Skipped)
		case types.EventQuote:
			if evt.Quote != nil && evt.Quote.BidPrice > 0 {
				e.handleTick(ctx, evt.Quote.Symbol, evt.Quote.BidPrice)
			}
		case types.EventTrade:
			if evt.Trade != nil && evt.Trade.Price > 0 {
				e.handleTick(ctx, evt.Trade.Symbol, evt.Trade.Price)
			}
		}
	}
}

func (e *Engine) runPolling(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range e.tracker.Symbols() {
				if q, ok := e.store.GetLatestQuote(symbol); ok && q.BidPrice > 0 {
					e.handleTick(ctx, symbol, q.BidPrice)
				}
			}
		}
	}
}

func (e *Engine) handleTick(ctx context.Context, symbol string, price float64) {
	if price <= 0 {
		return
	}
	e.reconcilePending(ctx, symbol, price)
	e.policePosition(ctx, symbol, price)
}

// ---------------------------------------------------------------------
// Pending order reconciliation (spec section 4.7)
// ---------------------------------------------------------------------

func (e *Engine) reconcilePending(ctx context.Context, symbol string, price float64) {
	for _, p := range e.tracker.PendingOrdersForSymbol(symbol) {
		if e.expireIfNeeded(ctx, p) {
			continue
		}
		if !p.LastCheckTime.IsZero() && tracker.Now().Sub(p.LastCheckTime) < checkRateLimit {
			continue
		}
		e.tracker.UpdatePendingOrder(p.OrderID, func(po types.PendingOrder) types.PendingOrder {
			po.LastCheckTime = tracker.Now()
			return po
		})

		if p.Side == types.Buy {
			e.reconcilePendingBuy(ctx, p, price)
		} else {
			e.reconcilePendingSell(ctx, p, price)
		}
	}
}

func (e *Engine) expireIfNeeded(ctx context.Context, p types.PendingOrder) bool {
	days := e.cfg.Defaults.LimitOrderExpirationDays
	if days <= 0 {
		return false
	}
	if tracker.Now().Sub(p.CreatedAt) <= time.Duration(days)*24*time.Hour {
		return false
	}
	if err := e.exchange.CancelOrder(ctx, p.OrderID); err != nil {
		e.logger.Warn("monitor: cancel expired order failed", "order_id", p.OrderID, "error", err)
	}
	e.tracker.RemovePendingOrder(p.OrderID)
	return true
}

func (e *Engine) reconcilePendingBuy(ctx context.Context, p types.PendingOrder, price float64) {
	if price > p.LimitPrice {
		return
	}
	order, err := e.exchange.GetOrder(ctx, p.OrderID)
	if err != nil {
		e.logger.Debug("monitor: poll pending buy failed", "order_id", p.OrderID, "error", err)
		return
	}

	switch order.Status {
	case types.OrderStatusFilled:
		e.onBuyFilled(ctx, p, order)
	case types.OrderStatusCanceled, types.OrderStatusExpired:
		e.tracker.RemovePendingOrder(p.OrderID)
	}
}

func (e *Engine) onBuyFilled(ctx context.Context, p types.PendingOrder, order types.VenueOrder) {
	filledQty := order.FilledQty
	if !tracker.QtyClose(filledQty, p.Qty) {
		e.logger.Warn("monitor: filled qty differs from requested", "symbol", p.Symbol, "requested", p.Qty, "filled", filledQty)
	}
	fillPrice := order.FilledAvg
	if fillPrice <= 0 {
		fillPrice = p.LimitPrice
	}

	tpPct := e.cfg.TakeProfitPct(p.Symbol)
	slPct := e.cfg.StopLossPct(p.Symbol)
	takeProfit := fillPrice * (1 + tpPct/100)
	stopLoss := fillPrice * (1 - slPct/100)

	e.tracker.SetPosition(types.PositionInfo{
		Symbol:       p.Symbol,
		EntryPrice:   fillPrice,
		Qty:          filledQty,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		EntryTime:    tracker.Now(),
		Side:         types.Buy,
		HighestPrice: fillPrice,
	})
	e.tracker.RemovePendingOrder(p.OrderID)

	ack, err := e.exchange.SubmitOrder(ctx, types.PlaceOrderRequest{
		Symbol:      p.Symbol,
		Side:        types.Sell,
		Qty:         filledQty,
		OrderType:   types.OrderTypeLimit,
		LimitPrice:  floatPtr(takeProfit),
		TimeInForce: types.TIFGTC,
	})
	if err != nil {
		// Leave open_order_id empty; position policing's orphan path will
		// retry on the next tick.
		e.logger.Error("monitor: failed to place protective sell after fill", "symbol", p.Symbol, "error", err)
		return
	}

	e.tracker.UpdatePosition(p.Symbol, func(pos types.PositionInfo) types.PositionInfo {
		pos.OpenOrderID = ack.OrderID
		return pos
	})
	// The pending sell carries no stop_loss: SL is enforced at the
	// position level so it never races cancellation of the TP order.
	e.tracker.AddPendingOrder(types.PendingOrder{
		OrderID:    ack.OrderID,
		Symbol:     p.Symbol,
		Side:       types.Sell,
		LimitPrice: takeProfit,
		Qty:        filledQty,
		CreatedAt:  tracker.Now(),
	})
}

func (e *Engine) reconcilePendingSell(ctx context.Context, p types.PendingOrder, price float64) {
	if p.StopLoss != nil && price <= *p.StopLoss {
		if err := e.exchange.CancelOrder(ctx, p.OrderID); err != nil {
			e.logger.Warn("monitor: cancel pending sell for stop-loss failed", "order_id", p.OrderID, "error", err)
		}
		e.tracker.RemovePendingOrder(p.OrderID)
		e.tracker.UpdatePosition(p.Symbol, func(pos types.PositionInfo) types.PositionInfo {
			pos.IsClosing = true
			return pos
		})
		e.publishExitOrder(p.Symbol, "stop_loss_limit_cancel")
		return
	}

	if price < p.LimitPrice {
		return
	}
	order, err := e.exchange.GetOrder(ctx, p.OrderID)
	if err != nil {
		e.logger.Debug("monitor: poll pending sell failed", "order_id", p.OrderID, "error", err)
		return
	}

	switch order.Status {
	case types.OrderStatusFilled:
		e.tracker.RemovePosition(p.Symbol)
		e.tracker.RemovePendingOrder(p.OrderID)
	case types.OrderStatusCanceled, types.OrderStatusExpired:
		e.tracker.RemovePendingOrder(p.OrderID)
		e.tracker.UpdatePosition(p.Symbol, func(pos types.PositionInfo) types.PositionInfo {
			pos.OpenOrderID = ""
			return pos
		})
	}
}

// ---------------------------------------------------------------------
// Position policing (spec section 4.7)
// ---------------------------------------------------------------------

func (e *Engine) policePosition(ctx context.Context, symbol string, price float64) {
	pos, ok := e.tracker.GetPosition(symbol)
	if !ok || pos.IsClosing {
		return
	}

	e.tracker.UpdatePosition(symbol, func(p types.PositionInfo) types.PositionInfo {
		if price > p.HighestPrice {
			p.HighestPrice = price
		}
		return p
	})

	if pos.OpenOrderID == "" {
		e.handleOrphan(ctx, symbol, pos)
		return
	}

	// Even with a resting take-profit sell, both levels are rechecked here
	// against the tick price; either breach publishes an exit.
	if price >= pos.TakeProfit {
		e.markClosingAndExit(symbol, "take_profit")
	} else if price <= pos.StopLoss {
		e.markClosingAndExit(symbol, "stop_loss")
	}
}

func (e *Engine) handleOrphan(ctx context.Context, symbol string, pos types.PositionInfo) {
	if pos.RecreateAttempts >= maxRecreateAttempts {
		e.logger.Warn("monitor: abandoning orphaned position after repeated failures", "symbol", symbol, "attempts", pos.RecreateAttempts)
		e.tracker.RemovePosition(symbol)
		return
	}
	if !pos.LastRecreateAttempt.IsZero() && tracker.Now().Sub(pos.LastRecreateAttempt) < recreateCooldown {
		return
	}
	if pending, ok := e.tracker.PendingSellForSymbol(symbol); ok {
		e.tracker.UpdatePosition(symbol, func(p types.PositionInfo) types.PositionInfo {
			p.OpenOrderID = pending.OrderID
			return p
		})
		return
	}

	e.recreateProtectiveExit(ctx, symbol)
	e.tracker.UpdatePosition(symbol, func(p types.PositionInfo) types.PositionInfo {
		p.RecreateAttempts++
		p.LastRecreateAttempt = tracker.Now()
		return p
	})
}

func (e *Engine) markClosingAndExit(symbol, reason string) {
	e.tracker.UpdatePosition(symbol, func(p types.PositionInfo) types.PositionInfo {
		p.IsClosing = true
		return p
	})
	e.publishExitOrder(symbol, reason)
}

// recreateProtectiveExit reconciles tracked qty against the venue, then
// submits a fresh limit sell at take_profit (spec section 4.7's "Recreate
// protective exit order"). On an insufficient-balance error it re-fetches
// positions once more and retries with the freshly read qty.
func (e *Engine) recreateProtectiveExit(ctx context.Context, symbol string) {
	pos, ok := e.tracker.GetPosition(symbol)
	if !ok {
		return
	}

	qty, found, err := e.reconcileQtyAgainstVenue(ctx, symbol, pos.Qty)
	if err != nil {
		e.logger.Error("monitor: failed to fetch venue positions for reconcile", "symbol", symbol, "error", err)
		return
	}
	if !found {
		e.logger.Info("monitor: position closed out-of-band, removing from tracker", "symbol", symbol)
		e.tracker.RemovePosition(symbol)
		return
	}

	ack, err := e.exchange.SubmitOrder(ctx, types.PlaceOrderRequest{
		Symbol:      symbol,
		Side:        types.Sell,
		Qty:         qty,
		OrderType:   types.OrderTypeLimit,
		LimitPrice:  floatPtr(pos.TakeProfit),
		TimeInForce: types.TIFGTC,
	})
	if err != nil {
		if !exchange.IsInsufficientBalance(err) {
			e.logger.Error("monitor: recreate protective exit failed", "symbol", symbol, "error", err)
			return
		}
		retryQty, found, rerr := e.reconcileQtyAgainstVenue(ctx, symbol, qty)
		if rerr != nil || !found {
			e.logger.Error("monitor: recreate retry failed", "symbol", symbol, "error", rerr)
			return
		}
		ack, err = e.exchange.SubmitOrder(ctx, types.PlaceOrderRequest{
			Symbol:      symbol,
			Side:        types.Sell,
			Qty:         retryQty,
			OrderType:   types.OrderTypeLimit,
			LimitPrice:  floatPtr(pos.TakeProfit),
			TimeInForce: types.TIFGTC,
		})
		if err != nil {
			e.logger.Error("monitor: recreate protective exit failed after retry", "symbol", symbol, "error", err)
			return
		}
		qty = retryQty
	}

	e.tracker.UpdatePosition(symbol, func(p types.PositionInfo) types.PositionInfo {
		p.OpenOrderID = ack.OrderID
		return p
	})
	e.tracker.AddPendingOrder(types.PendingOrder{
		OrderID:    ack.OrderID,
		Symbol:     symbol,
		Side:       types.Sell,
		LimitPrice: pos.TakeProfit,
		Qty:        qty,
		CreatedAt:  tracker.Now(),
	})
}

// reconcileQtyAgainstVenue fetches venue positions and returns the
// reconciled quantity for symbol. If the venue no longer reports a
// position, found is false. If the venue's qty differs from trackedQty
// beyond epsilon, the tracker is updated to the venue's value.
func (e *Engine) reconcileQtyAgainstVenue(ctx context.Context, symbol string, trackedQty float64) (qty float64, found bool, err error) {
	venuePositions, err := e.exchange.GetPositions(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, vp := range venuePositions {
		if vp.Symbol != symbol {
			continue
		}
		if !tracker.QtyClose(vp.Qty, trackedQty) {
			e.logger.Warn("monitor: qty mismatch against venue, updating tracker", "symbol", symbol, "tracked", trackedQty, "venue", vp.Qty)
			e.tracker.UpdatePosition(symbol, func(p types.PositionInfo) types.PositionInfo {
				p.Qty = vp.Qty
				return p
			})
		}
		return vp.Qty, true, nil
	}
	return 0, false, nil
}

func (e *Engine) publishExitOrder(symbol, reason string) {
	e.logger.Info("monitor: exit signal", "symbol", symbol, "reason", reason)
	order := types.OrderRequest{Symbol: symbol, Action: types.Sell, OrderType: types.OrderTypeMarket}
	if _, err := e.b.Publish(types.Event{Kind: types.EventOrder, Order: &order}); err != nil {
		e.logger.Debug("monitor: publish exit order: no subscribers", "symbol", symbol)
	}
}

// ---------------------------------------------------------------------
// Initial synchronization on start (spec section 4.7)
// ---------------------------------------------------------------------

// InitialSync fetches venue positions and adopts any the tracker does not
// already know about, using default TP/SL percentages, then synthesizes a
// protective exit order for each.
func (e *Engine) InitialSync(ctx context.Context) {
	venuePositions, err := e.exchange.GetPositions(ctx)
	if err != nil {
		e.logger.Error("monitor: initial sync failed to fetch positions", "error", err)
		return
	}

	for _, vp := range venuePositions {
		if e.tracker.HasPosition(vp.Symbol) || vp.AvgEntryPrice <= 0 {
			continue
		}
		tpPct := e.cfg.TakeProfitPct(vp.Symbol)
		slPct := e.cfg.StopLossPct(vp.Symbol)
		e.tracker.SetPosition(types.PositionInfo{
			Symbol:       vp.Symbol,
			EntryPrice:   vp.AvgEntryPrice,
			Qty:          vp.Qty,
			StopLoss:     vp.AvgEntryPrice * (1 - slPct/100),
			TakeProfit:   vp.AvgEntryPrice * (1 + tpPct/100),
			EntryTime:    tracker.Now(),
			Side:         types.Buy,
			HighestPrice: vp.AvgEntryPrice,
		})
		e.logger.Warn("monitor: adopted untracked venue position", "symbol", vp.Symbol, "take_profit_pct", tpPct, "stop_loss_pct", slPct)
		e.recreateProtectiveExit(ctx, vp.Symbol)
	}
}

func floatPtr(v float64) *float64 { return &v }

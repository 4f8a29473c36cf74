package execution

import (
	"context"
	"sync"
	"time"

	"autohedge/internal/exchange"
	"autohedge/pkg/types"
)

// AccountCache memoizes the venue account summary for AccountCacheTTL so a
// burst of buy evaluations doesn't each fire its own account-balance
// round trip. Invalidate forces the next BuyingPower call to refetch.
type AccountCache struct {
	api exchange.TradingAPI
	ttl time.Duration

	mu        sync.Mutex
	summary   types.AccountSummary
	lastFetch time.Time
}

// NewAccountCache builds a cache with the given refresh interval.
func NewAccountCache(api exchange.TradingAPI, ttl time.Duration) *AccountCache {
	return &AccountCache{api: api, ttl: ttl}
}

// BuyingPower returns the cached buying power, refreshing first if the
// cache is stale or has never been populated.
func (c *AccountCache) BuyingPower(ctx context.Context) (float64, error) {
	c.mu.Lock()
	stale := c.lastFetch.IsZero() || time.Since(c.lastFetch) >= c.ttl
	c.mu.Unlock()

	if stale {
		if err := c.refresh(ctx); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.summary.BuyingPower > 0 {
		return c.summary.BuyingPower, nil
	}
	return c.summary.Cash, nil
}

// Invalidate forces the next BuyingPower call to refetch. Call this after
// a successful order to keep the cached balance from drifting too far
// between refresh windows.
func (c *AccountCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFetch = time.Time{}
}

func (c *AccountCache) refresh(ctx context.Context) error {
	summary, err := c.api.GetAccount(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.summary = summary
	c.lastFetch = time.Now()
	c.mu.Unlock()
	return nil
}

// OrderSizing is the computed qty/notional for a buy order.
type OrderSizing struct {
	Qty      float64
	Notional float64
}

// maxAffordableFraction leaves headroom for fees/slippage so a sized order
// never consumes the full reported buying power.
const maxAffordableFraction = 0.95

// computeOrderSizing sizes a buy order as targetPct of buyingPower, clamped
// to [minOrder, maxOrder], and never exceeding 95% of buying power. Returns
// false if no order can be placed (buying power or price is non-positive,
// or even the minimum order would exceed the affordable ceiling).
func computeOrderSizing(price, buyingPower, minOrder, maxOrder, targetPct float64) (OrderSizing, bool) {
	if price <= 0 || buyingPower <= 0 {
		return OrderSizing{}, false
	}

	notional := buyingPower * targetPct
	if notional < minOrder {
		notional = minOrder
	}
	if notional > maxOrder {
		notional = maxOrder
	}

	maxAffordable := buyingPower * maxAffordableFraction
	if notional > maxAffordable {
		if maxAffordable < minOrder {
			return OrderSizing{}, false
		}
		notional = maxAffordable
	}

	return OrderSizing{Qty: notional / price, Notional: notional}, true
}

// aggressiveLimitPrice nudges the mid price toward the side that improves
// fill probability: toward the ask for buys, toward the bid for sells. The
// offset is capped at the quote itself so it never crosses the spread.
func aggressiveLimitPrice(bid, ask float64, side types.Side, aggressionBps float64) float64 {
	mid := (bid + ask) / 2
	offset := mid * (aggressionBps / 10000)

	if side == types.Buy {
		p := mid + offset
		if p > ask {
			p = ask
		}
		return p
	}
	p := mid - offset
	if p < bid {
		p = bid
	}
	return p
}

package tracker

import (
	"testing"

	"autohedge/pkg/types"
)

func TestPendingBuyBecomesPositionXOR(t *testing.T) {
	t.Parallel()
	tr := New()

	tr.AddPendingOrder(types.PendingOrder{OrderID: "o1", Symbol: "BTC/USD", Side: types.Buy, LimitPrice: 100, Qty: 1})
	if tr.HasPosition("BTC/USD") {
		t.Fatal("position should not exist before fill")
	}

	// Fill: pending buy removed, position created.
	tr.RemovePendingOrder("o1")
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD", EntryPrice: 100, Qty: 1})

	if _, ok := tr.GetPendingOrder("o1"); ok {
		t.Error("pending order should be gone after fill")
	}
	if !tr.HasPosition("BTC/USD") {
		t.Error("position should exist after fill")
	}
}

func TestOrphanDetectionViaOpenOrderID(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.SetPosition(types.PositionInfo{Symbol: "ETH/USD", OpenOrderID: ""})

	pos, _ := tr.GetPosition("ETH/USD")
	if pos.OpenOrderID != "" {
		t.Fatal("expected orphaned position (empty OpenOrderID)")
	}
}

func TestRecreateAttemptsAccumulateViaUpdatePosition(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.SetPosition(types.PositionInfo{Symbol: "BTC/USD"})

	for i := 0; i < 3; i++ {
		tr.UpdatePosition("BTC/USD", func(p types.PositionInfo) types.PositionInfo {
			p.RecreateAttempts++
			return p
		})
	}
	pos, _ := tr.GetPosition("BTC/USD")
	if pos.RecreateAttempts != 3 {
		t.Fatalf("RecreateAttempts = %d, want 3", pos.RecreateAttempts)
	}
}

func TestPendingSellForSymbol(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.AddPendingOrder(types.PendingOrder{OrderID: "s1", Symbol: "BTC/USD", Side: types.Sell})

	po, ok := tr.PendingSellForSymbol("BTC/USD")
	if !ok || po.OrderID != "s1" {
		t.Fatalf("PendingSellForSymbol = %+v, ok=%v", po, ok)
	}
	if _, ok := tr.PendingSellForSymbol("ETH/USD"); ok {
		t.Error("expected no pending sell for unrelated symbol")
	}
}

func TestCancelIdempotent(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.AddPendingOrder(types.PendingOrder{OrderID: "o1", Symbol: "BTC/USD", Side: types.Buy})

	tr.RemovePendingOrder("o1")
	stateAfterFirst := tr.PendingOrdersForSymbol("BTC/USD")

	// Handling the cancellation twice must be a no-op the second time.
	tr.RemovePendingOrder("o1")
	stateAfterSecond := tr.PendingOrdersForSymbol("BTC/USD")

	if len(stateAfterFirst) != 0 || len(stateAfterSecond) != 0 {
		t.Fatalf("expected empty pending set both times, got %v then %v", stateAfterFirst, stateAfterSecond)
	}
}

func TestQtyClose(t *testing.T) {
	t.Parallel()
	if !QtyClose(1.0000001, 1.0) {
		t.Error("expected values within epsilon to be close")
	}
	if QtyClose(1.1, 1.0) {
		t.Error("expected values outside epsilon to not be close")
	}
}

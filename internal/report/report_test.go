package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"autohedge/internal/bus"
	"autohedge/pkg/types"
)

func TestReporterAppendsAndSnapshots(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	r, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	b := bus.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx, b)

	// Give the subscriber goroutine time to attach before publishing.
	for b.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}

	price, qty := 100.0, 1.0
	b.Publish(types.Event{Kind: types.EventOrder, Order: &types.OrderRequest{Symbol: "BTC/USD", Action: types.Buy, OrderType: types.OrderTypeLimit}})
	b.Publish(types.Event{Kind: types.EventExecution, Execution: &types.ExecutionReport{Symbol: "BTC/USD", Status: types.OrderStatusFilled, Side: types.Buy, Price: &price, Qty: &qty}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := os.ReadFile(filepath.Join(dir, "trades.jsonl"))
		if err == nil && len(data) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("trade log never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	data, err := os.ReadFile(filepath.Join(dir, "trade_summary.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.TotalOrders != 1 {
		t.Errorf("TotalOrders = %d, want 1", summary.TotalOrders)
	}
	if summary.TotalFills != 1 {
		t.Errorf("TotalFills = %d, want 1", summary.TotalFills)
	}
}

func TestAtomicWriteJSONRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")

	if err := atomicWriteJSON(path, Stats{BySymbol: map[string]int{"BTC/USD": 3}}); err != nil {
		t.Fatalf("atomicWriteJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.BySymbol["BTC/USD"] != 3 {
		t.Errorf("BySymbol[BTC/USD] = %d, want 3", s.BySymbol["BTC/USD"])
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

// Package report implements the persistent trade reporter: an independent
// bus subscriber that appends every Order and Execution event to a JSONL
// trade log and periodically rewrites a JSON snapshot summary and a stats
// file. File writes use the donor idiom of write-to-temp-then-rename so a
// crash mid-write never corrupts the previous good file.
package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"autohedge/internal/bus"
	"autohedge/pkg/types"
)

// Record is one JSONL line: either an order intent or an execution result.
type Record struct {
	Timestamp time.Time              `json:"timestamp"`
	Kind      types.EventKind        `json:"kind"`
	Order     *types.OrderRequest    `json:"order,omitempty"`
	Execution *types.ExecutionReport `json:"execution,omitempty"`
}

// Summary is the snapshot written to trade_summary.json.
type Summary struct {
	UpdatedAt     time.Time `json:"updated_at"`
	TotalOrders   int       `json:"total_orders"`
	TotalFills    int       `json:"total_fills"`
	RealizedPnL   string    `json:"realized_pnl"` // decimal string, exact
	LastExecution time.Time `json:"last_execution,omitempty"`
}

// Stats is the snapshot written to trade_stats.json.
type Stats struct {
	UpdatedAt   time.Time         `json:"updated_at"`
	BySymbol    map[string]int    `json:"orders_by_symbol"`
	ByOrderType map[string]int    `json:"orders_by_type"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// Reporter subscribes to the bus and persists every Order/Execution event.
type Reporter struct {
	dir string

	mu          sync.Mutex
	logFile     *os.File
	logWriter   *bufio.Writer
	totalOrders int
	totalFills  int
	realizedPnL decimal.Decimal
	bySymbol    map[string]int
	byOrderType map[string]int
	lastExec    time.Time
}

// New opens (creating if necessary) the reporter's data directory and its
// append-only trade log.
func New(dir string) (*Reporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create data dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "trades.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report: open trade log: %w", err)
	}
	return &Reporter{
		dir:         dir,
		logFile:     f,
		logWriter:   bufio.NewWriter(f),
		bySymbol:    make(map[string]int),
		byOrderType: make(map[string]int),
	}, nil
}

// Close flushes and closes the trade log.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.logWriter.Flush(); err != nil {
		return err
	}
	return r.logFile.Close()
}

// Run subscribes to the bus and persists events until ctx is canceled.
func (r *Reporter) Run(ctx context.Context, b *bus.Bus) {
	rx := b.Subscribe()
	defer rx.Close()

	for {
		evt, err := rx.Recv(ctx)
		if err != nil {
			return
		}
		switch evt.Kind {
		case types.EventOrder:
			if evt.Order != nil {
				r.recordOrder(*evt.Order)
			}
		case types.EventExecution:
			if evt.Execution != nil {
				r.recordExecution(*evt.Execution)
			}
		}
	}
}

func (r *Reporter) recordOrder(o types.OrderRequest) {
	r.mu.Lock()
	r.totalOrders++
	r.bySymbol[o.Symbol]++
	r.byOrderType[string(o.OrderType)]++
	r.mu.Unlock()

	r.appendLine(Record{Timestamp: time.Now(), Kind: types.EventOrder, Order: &o})
	r.flushSnapshots()
}

func (r *Reporter) recordExecution(e types.ExecutionReport) {
	r.mu.Lock()
	r.lastExec = time.Now()
	if e.Status == types.OrderStatusFilled {
		r.totalFills++
		if e.Price != nil && e.Qty != nil {
			notional := decimal.NewFromFloat(*e.Price).Mul(decimal.NewFromFloat(*e.Qty))
			if e.Side == types.Sell {
				r.realizedPnL = r.realizedPnL.Add(notional)
			} else {
				r.realizedPnL = r.realizedPnL.Sub(notional)
			}
		}
	}
	r.mu.Unlock()

	r.appendLine(Record{Timestamp: time.Now(), Kind: types.EventExecution, Execution: &e})
	r.flushSnapshots()
}

func (r *Reporter) appendLine(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logWriter.Write(data)
	r.logWriter.WriteString("\n")
	r.logWriter.Flush()
}

// flushSnapshots rewrites trade_summary.json and trade_stats.json using an
// atomic write-to-temp-then-rename, so readers never observe a partial
// file even if the process is killed mid-write.
func (r *Reporter) flushSnapshots() {
	r.mu.Lock()
	summary := Summary{
		UpdatedAt:     time.Now(),
		TotalOrders:   r.totalOrders,
		TotalFills:    r.totalFills,
		RealizedPnL:   r.realizedPnL.String(),
		LastExecution: r.lastExec,
	}
	stats := Stats{
		UpdatedAt:   time.Now(),
		BySymbol:    cloneCounts(r.bySymbol),
		ByOrderType: cloneCounts(r.byOrderType),
	}
	r.mu.Unlock()

	atomicWriteJSON(filepath.Join(r.dir, "trade_summary.json"), summary)
	atomicWriteJSON(filepath.Join(r.dir, "trade_stats.json"), stats)
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// Package strategy implements the Strategy Engine: three interchangeable
// decision modes (HFT, LLM, Hybrid) that turn inbound quotes into buy
// signals published on the bus. At most one signal is emitted per
// evaluation; LLM calls are fire-and-forget so a stalled analysis never
// blocks the per-symbol quote loop.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"autohedge/internal/bus"
	"autohedge/internal/config"
	"autohedge/internal/llm"
	"autohedge/internal/store"
	"autohedge/pkg/types"
)

// maxMidRing bounds the HFT rolling mid-price window (spec section 4.4:
// "mids: ring <= 30").
const maxMidRing = 30

// hftState is the per-symbol mutable state the HFT evaluator threads
// between quotes.
type hftState struct {
	mids             []float64
	quotesSinceEval  int
}

func (s *hftState) pushMid(mid float64) {
	s.mids = append(s.mids, mid)
	if len(s.mids) > maxMidRing {
		s.mids = s.mids[len(s.mids)-maxMidRing:]
	}
}

// llmState is the per-symbol cooldown counter for LLM mode.
type llmState struct {
	cooldownQuotesRemaining int
	analysisInFlight        bool
}

// hybridGate is the per-symbol gate Hybrid mode maintains in addition to
// the shared hftState it delegates to once open.
type hybridGate struct {
	quotesUntilRefresh      int
	cooldownQuotesRemaining int
	allowed                 bool
	lastReason              string
	refreshing              bool
}

// Engine is the Strategy Engine. One Engine drives whichever mode
// cfg.StrategyMode selects; HFT and Hybrid share the same hftState map
// since Hybrid literally delegates to the HFT evaluator once its gate is
// open.
type Engine struct {
	cfg    *config.Config
	store  *store.Store
	bus    *bus.Bus
	queue  *llm.Queue
	logger *slog.Logger

	mu     sync.Mutex
	hft    map[string]*hftState
	llmSt  map[string]*llmState
	hybrid map[string]*hybridGate
}

// New builds a Strategy Engine. queue may be nil only when cfg.StrategyMode
// is "hft" (no LLM path is ever exercised in that mode).
func New(cfg *config.Config, st *store.Store, b *bus.Bus, queue *llm.Queue, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  st,
		bus:    b,
		queue:  queue,
		logger: logger.With("component", "strategy"),
		hft:    make(map[string]*hftState),
		llmSt:  make(map[string]*llmState),
		hybrid: make(map[string]*hybridGate),
	}
}

// Run subscribes to the bus and processes quote events until ctx is
// canceled. It is meant to run as one supervised goroutine.
func (e *Engine) Run(ctx context.Context) {
	sub := e.bus.Subscribe()
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
		if evt.Kind != types.EventQuote || evt.Quote == nil {
			continue
		}
		e.handleQuote(ctx, *evt.Quote)
	}
}

func (e *Engine) handleQuote(ctx context.Context, q types.Quote) {
	switch e.cfg.StrategyMode {
	case types.StrategyHFT:
		if sig := e.evaluateHFT(q); sig != nil {
			e.publishSignal(*sig)
		}
	case types.StrategyLLM:
		e.evaluateLLM(ctx, q)
	case types.StrategyHybrid:
		e.evaluateHybrid(ctx, q)
	}
}

func (e *Engine) publishSignal(sig types.AnalysisSignal) {
	if _, err := e.bus.Publish(types.Event{Kind: types.EventSignal, Signal: &sig}); err != nil {
		e.logger.Debug("publish signal: no subscribers", "symbol", sig.Symbol)
	}
}

// ---------------------------------------------------------------------
// HFT mode
// ---------------------------------------------------------------------

func (e *Engine) hftStateFor(symbol string) *hftState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.hft[symbol]
	if !ok {
		s = &hftState{}
		e.hft[symbol] = s
	}
	return s
}

// evaluateHFT implements the HFT fast path (spec section 4.4). Returns nil
// when no signal should be emitted for this quote.
func (e *Engine) evaluateHFT(q types.Quote) *types.AnalysisSignal {
	if !q.Valid() {
		return nil
	}
	mid := q.Mid()
	spreadBps := (q.AskPrice - q.BidPrice) / mid * 10000
	if spreadBps > e.cfg.HFT.MaxSpreadBps {
		return nil
	}

	st := e.hftStateFor(q.Symbol)
	e.mu.Lock()
	st.pushMid(mid)
	st.quotesSinceEval++
	if st.quotesSinceEval < e.cfg.HFT.EvaluateEveryQuotes {
		e.mu.Unlock()
		return nil
	}
	st.quotesSinceEval = 0
	lookback := 10
	if len(st.mids)-1 < lookback {
		lookback = len(st.mids) - 1
	}
	if lookback < 1 {
		e.mu.Unlock()
		return nil
	}
	base := st.mids[len(st.mids)-1-lookback]
	e.mu.Unlock()

	if base == 0 {
		return nil
	}
	edgeBps := (mid - base) / base * 10000
	if edgeBps < e.cfg.HFT.MinEdgeBps {
		return nil
	}

	tp := mid * (1 + e.cfg.HFT.TakeProfitBps/10000)
	sl := mid * (1 - e.cfg.HFT.StopLossBps/10000)
	return &types.AnalysisSignal{
		Symbol:        q.Symbol,
		Signal:        types.SignalBuy,
		Confidence:    1.0,
		Thesis:        fmt.Sprintf("HFT edge %.1fbps over %d-quote lookback", edgeBps, lookback),
		MarketContext: fmt.Sprintf("tp=%.8f, sl=%.8f", tp, sl),
	}
}

// ---------------------------------------------------------------------
// LLM mode
// ---------------------------------------------------------------------

func (e *Engine) llmStateFor(symbol string) *llmState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.llmSt[symbol]
	if !ok {
		s = &llmState{}
		e.llmSt[symbol] = s
	}
	return s
}

// evaluateLLM implements LLM mode (spec section 4.4). The Director call is
// spawned in a background goroutine so a slow or failed analysis never
// blocks the quote loop; only the cooldown counter is touched
// synchronously.
func (e *Engine) evaluateLLM(ctx context.Context, q types.Quote) {
	st := e.llmStateFor(q.Symbol)

	e.mu.Lock()
	if st.cooldownQuotesRemaining > 0 {
		st.cooldownQuotesRemaining--
		e.mu.Unlock()
		return
	}
	if st.analysisInFlight {
		e.mu.Unlock()
		return
	}
	history := e.store.GetQuoteHistory(q.Symbol)
	if len(history) < e.cfg.WarmupCount {
		e.mu.Unlock()
		return
	}
	st.analysisInFlight = true
	e.mu.Unlock()

	news := e.store.GetLatestNews()
	prompt := formatAnalysisPrompt(q.Symbol, history, news)

	go func() {
		defer func() {
			e.mu.Lock()
			st.analysisInFlight = false
			e.mu.Unlock()
		}()

		resp, err := llm.Director.Run(ctx, e.queue, prompt)
		if err != nil {
			e.logger.Warn("director analysis failed", "symbol", q.Symbol, "error", err)
			return
		}
		if isNoTrade(resp) {
			e.mu.Lock()
			st.cooldownQuotesRemaining = e.cfg.NoTradeCooldownQuotes
			e.mu.Unlock()
			return
		}

		// Quant is invoked for its own context/logging value; its output
		// does not gate the signal (spec section 4.4).
		if _, err := llm.Quant.RunHighPriority(ctx, e.queue, prompt); err != nil {
			e.logger.Debug("quant analysis failed", "symbol", q.Symbol, "error", err)
		}

		e.publishSignal(types.AnalysisSignal{
			Symbol:     q.Symbol,
			Signal:     types.SignalBuy,
			Confidence: 0.5,
			Thesis:     resp,
		})
	}()
}

// ---------------------------------------------------------------------
// Hybrid mode
// ---------------------------------------------------------------------

func (e *Engine) hybridGateFor(symbol string) *hybridGate {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.hybrid[symbol]
	if !ok {
		g = &hybridGate{}
		e.hybrid[symbol] = g
	}
	return g
}

// evaluateHybrid implements Hybrid mode (spec section 4.4): a periodic
// Director gate guarding emission from the HFT evaluator.
func (e *Engine) evaluateHybrid(ctx context.Context, q types.Quote) {
	g := e.hybridGateFor(q.Symbol)

	e.mu.Lock()
	if g.quotesUntilRefresh > 0 {
		g.quotesUntilRefresh--
	}
	if g.cooldownQuotesRemaining > 0 {
		g.cooldownQuotesRemaining--
	}
	needsRefresh := g.quotesUntilRefresh == 0 && g.cooldownQuotesRemaining == 0 && !g.refreshing
	history := e.store.GetQuoteHistory(q.Symbol)
	warm := len(history) >= e.cfg.WarmupCount
	allowed := g.allowed
	e.mu.Unlock()

	if needsRefresh && warm {
		e.refreshHybridGate(ctx, q.Symbol, history)
		return
	}

	if allowed {
		if sig := e.evaluateHFT(q); sig != nil {
			e.publishSignal(*sig)
		}
	}
}

func (e *Engine) refreshHybridGate(ctx context.Context, symbol string, history []types.Quote) {
	g := e.hybridGateFor(symbol)
	e.mu.Lock()
	g.refreshing = true
	e.mu.Unlock()

	news := e.store.GetLatestNews()
	prompt := formatAnalysisPrompt(symbol, history, news)

	go func() {
		resp, err := llm.Director.Run(ctx, e.queue, prompt)
		e.mu.Lock()
		defer e.mu.Unlock()
		g.refreshing = false
		g.quotesUntilRefresh = e.cfg.Hybrid.GateRefreshQuotes
		if err != nil {
			e.logger.Warn("hybrid gate refresh failed", "symbol", symbol, "error", err)
			g.allowed = false
			g.lastReason = "director_error"
			return
		}
		if isNoTrade(resp) {
			g.allowed = false
			g.lastReason = "no_trade"
			g.cooldownQuotesRemaining = e.cfg.Hybrid.NoTradeCooldownQuotes
			return
		}
		g.allowed = true
		g.lastReason = "trade"
	}()
}

// ---------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------

// isNoTrade reports whether a Director response indicates no trading
// opportunity. Lenient on purpose: the model's output is free-form JSON
// text, not a contract this package parses strictly.
func isNoTrade(resp string) bool {
	return strings.Contains(strings.ToLower(resp), "no_trade")
}

// formatAnalysisPrompt renders recent quote history and news into the
// free-text prompt handed to the Director/Quant agents.
func formatAnalysisPrompt(symbol string, history []types.Quote, news []types.NewsItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\n\nRecent quote history (oldest first):\n", symbol)
	for _, q := range history {
		fmt.Fprintf(&b, "  t=%s bid=%.4f ask=%.4f\n", q.Timestamp.Format("15:04:05"), q.BidPrice, q.AskPrice)
	}
	if len(news) > 0 {
		b.WriteString("\nRecent news:\n")
		for _, n := range news {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", n.Timestamp.Format("15:04:05"), n.Symbol, n.Headline)
		}
	}
	return b.String()
}

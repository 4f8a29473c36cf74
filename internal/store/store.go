// Package store implements the in-memory market data store: bounded
// per-symbol ring buffers of quotes, trades, and bars, plus a bounded
// rolling list of news items. Every operation is infallible — a missing
// symbol simply returns an empty result — and every read returns a
// point-in-time clone, never a live view.
package store

import (
	"sync"

	"autohedge/pkg/types"
)

// DefaultHistoryLimit is the per-symbol buffer capacity used when none is
// configured.
const DefaultHistoryLimit = 50

// ring is a fixed-capacity FIFO. Past capacity, the oldest element is
// dropped. Implemented as a plain slice rather than container/ring: the
// store's access pattern (append, then read back the full buffer in
// chronological order) is simpler to express as a slice than by walking a
// circular container/ring.Ring. A ring is handed out by Store and can be
// pushed/read from multiple goroutines concurrently, so it carries its own
// lock rather than relying on whatever lock its caller happened to be
// holding at lookup time.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newRing[T any](limit int) *ring[T] {
	return &ring[T]{limit: limit}
}

func (r *ring[T]) push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, v)
	if len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
}

func (r *ring[T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *ring[T]) last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	return r.items[len(r.items)-1], true
}

// Store is the Market Store: a concurrent map of per-symbol bounded
// sequences. The map itself is guarded by mu, held only while a bucket is
// looked up or created; each bucket guards its own contents with its own
// lock, so a push into one symbol's ring does not wait on reads of
// another's. A push holds its ring's write lock, so reads of that same
// ring wait for it.
type Store struct {
	limit int

	mu     sync.RWMutex
	quotes map[string]*ring[types.Quote]
	trades map[string]*ring[types.Trade]
	bars   map[string]*ring[types.Bar]

	newsMu sync.RWMutex
	news   *ring[types.NewsItem]
}

// New creates a Store with the given per-symbol/per-kind capacity. A
// limit <= 0 uses DefaultHistoryLimit.
func New(limit int) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Store{
		limit:  limit,
		quotes: make(map[string]*ring[types.Quote]),
		trades: make(map[string]*ring[types.Trade]),
		bars:   make(map[string]*ring[types.Bar]),
		news:   newRing[types.NewsItem](limit),
	}
}

func (s *Store) quoteRing(symbol string) *ring[types.Quote] {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.quotes[symbol]
	if !ok {
		r = newRing[types.Quote](s.limit)
		s.quotes[symbol] = r
	}
	return r
}

func (s *Store) tradeRing(symbol string) *ring[types.Trade] {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.trades[symbol]
	if !ok {
		r = newRing[types.Trade](s.limit)
		s.trades[symbol] = r
	}
	return r
}

func (s *Store) barRing(symbol string) *ring[types.Bar] {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.bars[symbol]
	if !ok {
		r = newRing[types.Bar](s.limit)
		s.bars[symbol] = r
	}
	return r
}

// UpdateQuote appends a quote to the symbol's bounded history.
func (s *Store) UpdateQuote(symbol string, q types.Quote) { s.quoteRing(symbol).push(q) }

// UpdateTrade appends a trade to the symbol's bounded history.
func (s *Store) UpdateTrade(symbol string, t types.Trade) { s.tradeRing(symbol).push(t) }

// UpdateBar appends a bar to the symbol's bounded history.
func (s *Store) UpdateBar(symbol string, b types.Bar) { s.barRing(symbol).push(b) }

// AddNews appends a news item to the bounded global news list.
func (s *Store) AddNews(item types.NewsItem) {
	s.newsMu.Lock()
	defer s.newsMu.Unlock()
	s.news.push(item)
}

// GetLatestQuote returns the most recent quote for symbol, if any.
func (s *Store) GetLatestQuote(symbol string) (types.Quote, bool) {
	s.mu.RLock()
	r, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok {
		var zero types.Quote
		return zero, false
	}
	return r.last()
}

// GetLatestBar returns the most recent bar for symbol, if any.
func (s *Store) GetLatestBar(symbol string) (types.Bar, bool) {
	s.mu.RLock()
	r, ok := s.bars[symbol]
	s.mu.RUnlock()
	if !ok {
		var zero types.Bar
		return zero, false
	}
	return r.last()
}

// GetQuoteHistory returns a clone of symbol's bounded quote history,
// oldest first. Missing symbols return an empty (non-nil) slice.
func (s *Store) GetQuoteHistory(symbol string) []types.Quote {
	s.mu.RLock()
	r, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok {
		return []types.Quote{}
	}
	return r.snapshot()
}

// GetTradeHistory returns a clone of symbol's bounded trade history.
func (s *Store) GetTradeHistory(symbol string) []types.Trade {
	s.mu.RLock()
	r, ok := s.trades[symbol]
	s.mu.RUnlock()
	if !ok {
		return []types.Trade{}
	}
	return r.snapshot()
}

// GetBarHistory returns a clone of symbol's bounded bar history.
func (s *Store) GetBarHistory(symbol string) []types.Bar {
	s.mu.RLock()
	r, ok := s.bars[symbol]
	s.mu.RUnlock()
	if !ok {
		return []types.Bar{}
	}
	return r.snapshot()
}

// GetLatestNews returns a clone of the bounded global news list.
func (s *Store) GetLatestNews() []types.NewsItem {
	s.newsMu.RLock()
	defer s.newsMu.RUnlock()
	return s.news.snapshot()
}

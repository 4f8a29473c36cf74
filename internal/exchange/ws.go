// ws.go implements the per-venue market data stream: a WebSocket connection
// that subscribes to quotes/trades for the configured symbol set, decodes
// each inbound frame into a canonical Quote or Trade, updates the Market
// Store, and publishes the corresponding event on the bus.
//
// The connection auto-reconnects with exponential backoff (1s -> 30s max)
// and re-subscribes to all tracked symbols on reconnect. A read deadline
// (90s) detects a silently dead server within about two missed pings.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"autohedge/internal/bus"
	"autohedge/internal/store"
	"autohedge/pkg/types"
)

const (
	wsPingInterval     = 50 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// FrameDecoder turns one raw WebSocket frame into zero or more canonical
// quotes/trades. Implementations are venue-specific; everything else about
// connection lifecycle is shared.
type FrameDecoder func(raw []byte) ([]types.Quote, []types.Trade, error)

// SubscribeBuilder builds the venue-specific subscribe message for a set of
// canonical symbols.
type SubscribeBuilder func(symbols []string) any

// Stream is a generic per-venue WebSocket market data normalizer
// implementing MarketDataStream.
type Stream struct {
	venue   string
	url     string
	symbols []string

	decode    FrameDecoder
	subscribe SubscribeBuilder
	preamble  SubscribeBuilder // optional message sent before subscribe (e.g. Alpaca auth)

	store *store.Store
	bus   *bus.Bus
	seq   *uint64

	conn   *websocket.Conn
	connMu sync.Mutex

	logger *slog.Logger
}

// NewStream builds a Stream. seq, if non-nil, is a counter the stream
// increments and stamps on each event before publishing; the bus then
// overwrites Event.Seq with its own bus-wide counter, so subscribers see
// the bus's sequence numbers whichever pointer is passed here.
func NewStream(venue, url string, symbols []string, decode FrameDecoder, subscribe SubscribeBuilder, st *store.Store, b *bus.Bus, seq *uint64, logger *slog.Logger) *Stream {
	return &Stream{
		venue: venue, url: url, symbols: symbols,
		decode: decode, subscribe: subscribe,
		store: st, bus: b, seq: seq,
		logger: logger.With("component", "ws_"+venue),
	}
}

// WithPreamble attaches a message sent once, before the subscribe message,
// on every (re)connect. Used by venues that require a separate auth frame
// or a second subscribe frame.
func (s *Stream) WithPreamble(preamble SubscribeBuilder) *Stream {
	s.preamble = preamble
	return s
}

// Start connects and maintains the connection with auto-reconnect. Blocks
// until ctx is canceled.
func (s *Stream) Start(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("market data stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	if s.preamble != nil {
		if err := s.writeJSON(s.preamble(s.symbols)); err != nil {
			return fmt.Errorf("preamble: %w", err)
		}
	}
	if err := s.writeJSON(s.subscribe(s.symbols)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.logger.Info("market data stream connected", "symbols", s.symbols)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.handleFrame(msg)
	}
}

func (s *Stream) handleFrame(raw []byte) {
	quotes, trades, err := s.decode(raw)
	if err != nil {
		s.logger.Debug("dropping unparseable frame", "error", err)
		return
	}
	for _, q := range quotes {
		if !q.Valid() {
			continue
		}
		s.store.UpdateQuote(q.Symbol, q)
		s.publish(types.Event{Kind: types.EventQuote, Quote: &q})
	}
	for _, tr := range trades {
		s.store.UpdateTrade(tr.Symbol, tr)
		s.publish(types.Event{Kind: types.EventTrade, Trade: &tr})
	}
}

func (s *Stream) publish(evt types.Event) {
	if s.seq != nil {
		*s.seq++
		evt.Seq = *s.seq
	}
	if _, err := s.bus.Publish(evt); err != nil {
		s.logger.Debug("publish dropped", "error", err)
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writePing(); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) writePing() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *Stream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

// Package bus implements the broadcast event bus that serializes all
// inter-component communication: Market Data Stream, Strategy, Risk,
// Execution, and the Position Monitor each subscribe independently and
// publish without ever blocking on a slow reader.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"autohedge/pkg/types"
)

// ErrNoSubscribers is returned by Publish when the bus currently has no
// subscribers. It is informational, not fatal — publishers should not
// treat it as a reason to retry or back off.
var ErrNoSubscribers = errors.New("bus: no subscribers")

// ErrClosed is returned by Recv once the bus (or the subscription) has
// been closed.
var ErrClosed = errors.New("bus: receiver closed")

// DefaultCapacity is the per-subscriber channel depth used when none is
// configured, matching the default in spec section 4.1.
const DefaultCapacity = 1000

// Bus is a multi-producer multi-consumer broadcast of Event. Publish never
// blocks: a subscriber whose channel is full observably lags — it misses
// the event, and once it has drained its buffered events its next Recv
// returns a Lagged marker carrying the skip count, per spec section 4.1. Events are delivered to any one subscriber
// in publication order; there is no cross-subscriber ordering guarantee.
type Bus struct {
	capacity int
	seq      atomic.Uint64

	mu   sync.Mutex
	subs map[*Receiver]struct{}
}

// New creates a bus with the given per-subscriber channel capacity. A
// capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[*Receiver]struct{}),
	}
}

// Receiver is a single subscription. Only the goroutine that created it
// (via Subscribe) should call Recv/Close on it.
type Receiver struct {
	bus     *Bus
	ch      chan types.Event
	skipped atomic.Uint64
	closed  atomic.Bool
}

// Subscribe registers a new receiver. The receiver observes every event
// published after this call returns — nothing published before it.
func (b *Bus) Subscribe() *Receiver {
	r := &Receiver{
		bus: b,
		ch:  make(chan types.Event, b.capacity),
	}
	b.mu.Lock()
	b.subs[r] = struct{}{}
	b.mu.Unlock()
	return r
}

// Publish fans the event out to every current subscriber without
// blocking. It returns the number of subscribers the event was offered
// to, or ErrNoSubscribers if there were none. A subscriber whose channel
// is full is not waited on — it lags instead.
func (b *Bus) Publish(evt types.Event) (int, error) {
	evt.Seq = b.seq.Add(1)

	b.mu.Lock()
	n := len(b.subs)
	if n == 0 {
		b.mu.Unlock()
		return 0, ErrNoSubscribers
	}
	recvs := make([]*Receiver, 0, n)
	for r := range b.subs {
		recvs = append(recvs, r)
	}
	b.mu.Unlock()

	for _, r := range recvs {
		select {
		case r.ch <- evt:
		default:
			r.skipped.Add(1)
		}
	}
	return n, nil
}

// Recv blocks until an event is available, ctx is done, or the receiver
// is closed. Events already buffered in the channel are returned first,
// in publication order. Once the buffer is empty, if this subscriber
// lagged since the last marker, Recv returns a synthetic Lagged event
// carrying the skip count; callers must call Recv again to get the next
// real event.
func (r *Receiver) Recv(ctx context.Context) (types.Event, error) {
	select {
	case evt, ok := <-r.ch:
		if !ok {
			return types.Event{}, ErrClosed
		}
		return evt, nil
	default:
	}
	if skipped := r.skipped.Swap(0); skipped > 0 {
		return types.Event{Kind: types.EventLagged, Skipped: skipped}, nil
	}
	select {
	case evt, ok := <-r.ch:
		if !ok {
			return types.Event{}, ErrClosed
		}
		return evt, nil
	case <-ctx.Done():
		return types.Event{}, ctx.Err()
	}
}

// Close unsubscribes the receiver. Safe to call more than once.
func (r *Receiver) Close() {
	if r.closed.CompareAndSwap(false, true) {
		r.bus.mu.Lock()
		delete(r.bus.subs, r)
		r.bus.mu.Unlock()
		close(r.ch)
	}
}

// Subscribers reports the current subscriber count, mainly for tests and
// diagnostics.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

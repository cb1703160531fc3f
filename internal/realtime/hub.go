package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscription queue depth.
const DefaultBuffer = 256

// Publisher emits changes.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Subscriber opens filtered change subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
}

// Broker is both ends of the change feed.
type Broker interface {
	Publisher
	Subscriber
}

// Hub fans changes out to in-process subscriptions.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID atomic.Uint64
}

// NewHub returns a Hub whose subscriptions queue up to buffer changes.
// Non-positive buffer uses DefaultBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscription. It is closed when ctx is done or
// Close is called, whichever comes first.
func (h *Hub) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// One slot is held back for the Resync marker.
	s := &Subscription{
		id:     h.nextID.Add(1),
		filter: f,
		ch:     make(chan Change, h.buffer+1),
		hub:    h,
	}
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	s.stop = context.AfterFunc(ctx, s.Close)
	return s, nil
}

// Publish delivers c to every matching subscription without blocking.
func (h *Hub) Publish(ctx context.Context, c Change) error {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.filter.Match(c) {
			s.deliver(c)
		}
	}
	return nil
}

// Active returns the number of open subscriptions.
func (h *Hub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscription is a filtered stream of changes. It is exclusively owned by
// whoever opened it and must be closed by them.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan Change
	hub    *Hub
	stop   func() bool

	mu     sync.Mutex
	lost   bool
	closed bool
}

// ID identifies the subscription within its hub.
func (s *Subscription) ID() uint64 { return s.id }

// Filter returns the filter the subscription was opened with.
func (s *Subscription) Filter() Filter { return s.filter }

// C returns the change stream. It is closed when the subscription closes.
func (s *Subscription) C() <-chan Change { return s.ch }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}
	if s.hub != nil {
		s.hub.remove(s.id)
	}
}

// Closed reports whether Close has run.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// deliver enqueues c. When the queue is full the change is dropped and a
// single Resync is queued in the reserved slot instead.
func (s *Subscription) deliver(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.ch) >= cap(s.ch)-1 {
		if !s.lost {
			s.lost = true
			select {
			case s.ch <- Change{Table: c.Table, Type: Resync, At: time.Now().UTC()}:
			default:
			}
		}
		return
	}
	s.lost = false
	s.ch <- c
}

// Package marketdata fans order-book snapshots out to any number of
// subscribers without ever blocking the publisher.
package marketdata

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/metrics"
)

// Hub is a broadcast channel for snapshots. Every subscriber has its own
// bounded buffer; when a buffer is full the oldest snapshot is dropped and
// counted against the subscriber.
//
// Snapshots are shared between subscribers and must be treated as read-only.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	latest  *domain.OrderBookSnapshot
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

// NewHub creates a hub whose subscribers buffer up to buffer snapshots.
func NewHub(buffer int, m *metrics.Metrics) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: m,
	}
}

// Publish delivers s to every subscriber.
func (h *Hub) Publish(s domain.OrderBookSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.latest = &s
	for sub := range h.subs {
		sub.offer(s)
	}
}

// Subscribe registers a new subscriber. The most recent snapshot, if any,
// is queued for it immediately.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{hub: h, ch: make(chan domain.OrderBookSnapshot, h.buffer)}
	if h.closed {
		close(sub.ch)
		return sub
	}
	if h.latest != nil {
		sub.ch <- *h.latest
	}
	h.subs[sub] = struct{}{}
	h.metrics.AddSubscribers(1)
	return sub
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		h.remove(sub)
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *Subscription) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	h.metrics.AddSubscribers(-1)
}

// Subscription is one consumer's view of the hub.
type Subscription struct {
	hub     *Hub
	ch      chan domain.OrderBookSnapshot
	skipped atomic.Uint64
}

// offer enqueues s, evicting the oldest buffered snapshot when full.
// Only the hub calls offer, with its lock held.
func (s *Subscription) offer(snap domain.OrderBookSnapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
			s.skipped.Add(1)
		default:
		}
	}
}

// Recv returns the next snapshot and the number of snapshots skipped
// since the previous Recv. It returns domain.ErrHubClosed once the hub or
// the subscription is closed and the buffer is drained.
func (s *Subscription) Recv(ctx context.Context) (domain.OrderBookSnapshot, uint64, error) {
	select {
	case snap, ok := <-s.ch:
		if !ok {
			return domain.OrderBookSnapshot{}, 0, domain.ErrHubClosed
		}
		skipped := s.skipped.Swap(0)
		if skipped > 0 {
			s.hub.metrics.RecordLag(skipped)
		}
		return snap, skipped, nil
	case <-ctx.Done():
		return domain.OrderBookSnapshot{}, 0, ctx.Err()
	}
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.remove(s)
}

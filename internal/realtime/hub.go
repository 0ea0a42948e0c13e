package realtime

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gasbill97-stack/allu-admin/internal/observability"

	"github.com/gorilla/websocket"
)

const (
	DefaultBuffer = 64

	heartbeatInterval = 25 * time.Second
)

// Event is one message on the live feed. ID increases monotonically per Hub.
type Event struct {
	ID      int64     `json:"id"`
	Type    string    `json:"event_type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Hub fans published events out to every live Subscription. Delivery never
// blocks the publisher: each subscription has a bounded buffer and the
// oldest queued event is dropped when it is full. There is no replay.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	seq      atomic.Int64

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

type Subscription struct {
	hub *Hub
	ch  chan Event
	// serializes concurrent publishers doing drop-oldest on ch
	mu sync.Mutex
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// The console is served from a different origin in dev.
				return true
			},
		},
		buffer: buffer,
		subs:   map[*Subscription]struct{}{},
	}
}

func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	observability.BroadcastSubscribers.Inc()
	return s
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	observability.BroadcastSubscribers.Dec()
}

func (h *Hub) Publish(ev Event) {
	ev.ID = h.seq.Add(1)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	// Holding the read lock keeps Close from closing a channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		s.offer(ev)
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Subscription) offer(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			observability.BroadcastDropped.Inc()
		default:
		}
	}
}

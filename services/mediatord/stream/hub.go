package stream

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"omnibridge/core/events"
)

// Event is one committed bridge event as delivered to subscribers.
type Event struct {
	Chain      string            `json:"chain"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Time       time.Time         `json:"time"`
}

// Filter restricts a subscription. Empty fields match everything.
type Filter struct {
	Chain     string
	Type      string
	MessageID string
}

func (f Filter) match(evt Event) bool {
	if f.Chain != "" && !strings.EqualFold(f.Chain, evt.Chain) {
		return false
	}
	if f.Type != "" && f.Type != evt.Type {
		return false
	}
	if f.MessageID != "" && !strings.EqualFold(f.MessageID, evt.Attributes["messageId"]) {
		return false
	}
	return true
}

type subscriber struct {
	filter Filter
	ch     chan Event
}

// Hub fans committed events out to live subscribers. Slow subscribers lose
// events instead of blocking the chain.
type Hub struct {
	buffer int
	now    func() time.Time

	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*subscriber
	dropped atomic.Uint64
}

// NewHub creates a hub whose subscribers queue up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, now: time.Now, subs: make(map[uint64]*subscriber)}
}

// Emitter returns an events.Emitter publishing the events of chain.
func (h *Hub) Emitter(chain string) events.Emitter {
	return chainEmitter{hub: h, chain: chain}
}

type chainEmitter struct {
	hub   *Hub
	chain string
}

func (e chainEmitter) Emit(evt events.Event) {
	flat := events.Flatten(evt)
	if flat == nil {
		return
	}
	e.hub.publish(Event{Chain: e.chain, Type: flat.Type, Attributes: flat.Attributes, Time: e.hub.now().UTC()})
}

func (h *Hub) publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if !sub.filter.match(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function closes the
// channel and must be called once.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	sub := &subscriber{filter: filter, ch: make(chan Event, h.buffer)}
	h.subs[id] = sub
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many events were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

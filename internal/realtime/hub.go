// Package realtime fans out chat events to live viewers.
//
// A Hub keeps one subscriber set per topic. Delivery is best effort and
// at-least-once from the viewer's point of view: a subscriber that cannot
// keep up is dropped (its channel is closed) and is expected to re-sync
// from the store, de-duplicating by message id.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventSessionUpdated EventType = "session.updated"
)

// Event is the unit of fan-out. Payload is opaque JSON owned by the producer.
type Event struct {
	Type    EventType       `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin,omitempty"`
}

const defaultBuffer = 256

type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Subscribe registers a subscription on topic. It is released when ctx ends
// or Close is called, whichever comes first.
func (h *Hub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	s := &Subscription{
		topic: topic,
		ch:    make(chan Event, h.buffer),
		done:  make(chan struct{}),
		hub:   h,
	}

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// Publish delivers ev to every local subscriber of ev.Topic.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.Deliver(ev)
	return nil
}

// Deliver is Publish without any forwarding; bridges use it for events that
// arrived from other instances.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.topics[ev.Topic]))
	for s := range h.topics[ev.Topic] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.offer(ev) {
			h.logger.Warn("realtime subscriber too slow, dropping",
				"topic", ev.Topic, "event", ev.Type)
			s.Close()
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[s.topic]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.topics, s.topic)
	}
}

// Subscription is a scoped handle on one topic. Events is closed once the
// subscription ends, for any reason.
type Subscription struct {
	topic string
	ch    chan Event
	done  chan struct{}
	hub   *Hub

	mu     sync.Mutex
	closed bool
}

func (s *Subscription) Topic() string { return s.topic }

func (s *Subscription) Events() <-chan Event { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	s.mu.Unlock()

	s.hub.remove(s)
}

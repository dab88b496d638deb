package sse

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Topics published by the console.
const (
	TopicState   = "state"   // scan session snapshots
	TopicStorage = "storage" // login/logout
	TopicHistory = "history" // a scan was recorded
)

// Event represents a server-sent event to be published to subscribers.
type Event struct {
	Type string // one of the Topic constants
	Data []byte // JSON payload
}

// NewEvent marshals v as the payload of a typ event.
func NewEvent(typ string, v any) (Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Data: data}, nil
}

// Hub is a fan-out hub that manages per-topic SSE subscriptions.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{} // topic -> set of channels
	logger      *slog.Logger
}

// NewHub creates a new SSE hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber for the given topics.
// It returns a channel that will receive events and a cancel function that
// must be called when the subscriber disconnects.
func (h *Hub) Subscribe(topics ...string) (chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	for _, t := range topics {
		if h.subscribers[t] == nil {
			h.subscribers[t] = make(map[chan Event]struct{})
		}
		h.subscribers[t][ch] = struct{}{}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			for _, t := range topics {
				delete(h.subscribers[t], ch)
				if len(h.subscribers[t]) == 0 {
					delete(h.subscribers, t)
				}
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish sends an event to all subscribers of its topic.
// If a subscriber's channel is full, the event is dropped and a warning is logged.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("sse: dropped event for slow client", "topic", event.Type)
		}
	}
}

// PublishJSON marshals v and publishes it under topic.
func (h *Hub) PublishJSON(topic string, v any) {
	ev, err := NewEvent(topic, v)
	if err != nil {
		h.logger.Error("sse: marshal event", "topic", topic, "err", err)
		return
	}
	h.Publish(ev)
}

// SubscriberCount returns the number of active subscribers for the given topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

package support

import (
	"sync"

	"recipestore/internal/data"
	"recipestore/internal/logger"
)

// Event types sent to chat subscribers.
const (
	EventMessage = "message"
	EventClosed  = "closed"
)

// Event is one realtime update on a conversation.
type Event struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversation_id"`
	Message        *data.Message `json:"message,omitempty"`
}

// Subscription receives the events of one conversation. C is closed when the
// subscriber is dropped or the hub shuts down.
type Subscription struct {
	C              <-chan Event
	ch             chan Event
	conversationID string
}

// Hub fans out conversation events to websocket subscribers. A subscriber whose
// buffer is full is dropped rather than stalling the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for conversationID with the given buffer size.
func (h *Hub) Subscribe(conversationID string, buffer int) *Subscription {
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, conversationID: conversationID}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[*Subscription]struct{})
	}
	h.subs[conversationID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	set, ok := h.subs[sub.conversationID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.subs, sub.conversationID)
	}
}

// Publish delivers ev to every subscriber of its conversation without blocking.
// It returns the number of subscribers reached.
func (h *Hub) Publish(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for sub := range h.subs[ev.ConversationID] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			logger.LogWarn("Dropping slow chat subscriber on conversation %s", ev.ConversationID)
			h.removeLocked(sub)
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers on conversationID.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[conversationID])
}

// Close drops every subscriber. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for sub := range set {
			h.removeLocked(sub)
		}
	}
	h.closed = true
}

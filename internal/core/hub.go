package core

import "context"

// Hub fans chat events out to connected clients. Each client only receives
// events about messages visible to it.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	events     chan *Event
	done       chan struct{}
	clients    map[*Client]struct{}
}

// NewHub creates a new chat hub instance.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan *Event, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// Run processes registrations and events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			delete(h.clients, c)
			close(c.Events)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Events)
			}
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

// RegisterClient subscribes c to the feed. It is a no-op once the hub stopped.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient removes c and closes its event channel.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues an event for delivery. Events are dropped when the queue
// is full or the hub has stopped.
func (h *Hub) Publish(ev *Event) {
	if ev == nil {
		return
	}
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.events <- ev:
	default:
	}
}

func (h *Hub) broadcast(ev *Event) {
	for c := range h.clients {
		if !ev.Message.VisibleTo(c.Name) {
			continue
		}
		select {
		case c.Events <- ev:
		default:
			// Drop if slow consumer.
		}
	}
}

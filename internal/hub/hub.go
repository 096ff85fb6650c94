// Package hub fans JSON events out to the websocket clients subscribed to a
// topic.
package hub

import (
	"encoding/json"
	"sync"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Topic  string
	Writer Writer
}

// Event is the envelope written to clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.Topic] == nil {
		h.connections[conn.Topic] = make(map[*Connection]struct{})
	}
	h.connections[conn.Topic][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.Topic]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Topic)
	}
}

// Subscribers returns the number of connections on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[topic])
}

// Publish encodes an Event and broadcasts it on topic. Nothing is encoded
// while the topic has no subscribers.
func (h *Hub) Publish(topic, eventType string, data any) error {
	if h.Subscribers(topic) == 0 {
		return nil
	}
	msg, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return err
	}
	h.Broadcast(topic, msg)
	return nil
}

// Broadcast writes message to every connection on topic. Connections whose
// write fails are closed and dropped.
func (h *Hub) Broadcast(topic string, message []byte) {
	h.mu.RLock()
	set := h.connections[topic]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

package main

import (
	"sync"

	"github.com/astrokit/sequencer/common/logger"
)

// Hub maintains active WebSocket connections keyed by run ID and
// broadcasts progress snapshots to them
type Hub struct {
	// Map: run ID -> subscribed clients
	connections map[string][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	log *logger.Logger
}

// Message is one progress snapshot bound for a run's subscribers
type Message struct {
	RunID string
	Data  []byte
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		log:         log,
	}
}

// Run is the hub's main loop; returns when stop is closed
func (h *Hub) Run(stop <-chan struct{}) {
	h.log.Info("hub started")

	for {
		select {
		case <-stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToRun(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.runID] = append(h.connections[client.runID], client)
	h.log.Debug("client registered", "run_id", client.runID, "subscribers", len(h.connections[client.runID]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.runID]
	for i, c := range clients {
		if c == client {
			h.connections[client.runID] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			if len(h.connections[client.runID]) == 0 {
				delete(h.connections, client.runID)
			}
			h.log.Debug("client unregistered", "run_id", client.runID)
			break
		}
	}
}

// broadcastToRun sends a snapshot to every subscriber of a run. A client
// whose buffer is full is dropped rather than allowed to stall the rest.
func (h *Hub) broadcastToRun(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[message.RunID]
	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		select {
		case client.send <- message.Data:
		default:
			h.log.Warn("client send buffer full, dropping connection", "run_id", client.runID)
			close(client.send)
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for runID, clients := range h.connections {
		for _, client := range clients {
			close(client.send)
		}
		delete(h.connections, runID)
	}
}

// ConnectionCount returns the total number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

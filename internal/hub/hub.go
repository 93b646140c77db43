package hub

import (
	"context"
	"sync"

	"github.com/weiawesome/wes-io-messenger/internal/config"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

// Hub tracks every open websocket client, identified or not.
type Hub struct {
	clients    map[string]*Client // clientID -> client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// Config returns the websocket settings clients are created with.
func (h *Hub) Config() config.WebSocketConfig {
	return h.config
}

// Run processes registrations until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	l := log.L()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID()] = client
			h.mu.Unlock()
			l.Debug().Str(log.FieldSessionID, client.ID()).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client.ID())
			h.mu.Unlock()
			l.Debug().Str(log.FieldSessionID, client.ID()).Msg("client unregistered")

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			close(h.done)
			l.Info().Msg("hub stopped")
			return
		}
	}
}

// Register adds a client. After the hub stops the client is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client. It never blocks once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Count returns the number of open clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

package websocket

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"

	"github.com/gorilla/websocket"
)

// Hub maintains the set of active clients and broadcasts push-channel messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan model.Envelope
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	origins  []string
}

// NewHub creates a hub. An empty allowedOrigins list accepts every origin;
// "*" in the list does the same.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan model.Envelope, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		origins:    allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// RunWithContext serves registrations and broadcasts until ctx is cancelled,
// then closes every client and returns ctx.Err().
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Lifecycle events first so a client registered before a broadcast receives it.
		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			n := h.ClientCount()
			h.closeAll()
			logging.Info().Str("component", "websocket-hub").Int("clients_closed", n).Msg("websocket hub stopped")
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", n).Msg("websocket client disconnected")
}

// deliver sends msg to every client in connection order. Clients whose send
// buffer is full are dropped.
func (h *Hub) deliver(msg model.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.sortedLocked()
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
			logging.Warn().Uint64("client", c.id).Msg("websocket client too slow, disconnecting")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.sortedLocked() {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) sortedLocked() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// Broadcast queues a message for every connected client. It never blocks;
// the message is dropped when the queue is full.
func (h *Hub) Broadcast(kind model.EventKind, payload interface{}) {
	select {
	case h.broadcast <- model.Envelope{Type: kind, Data: payload}:
	default:
		logging.Warn().Str("message_type", string(kind)).Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	client := NewClient(h, conn)
	select {
	case h.Register <- client:
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}
	client.Start()
}

// checkOrigin accepts requests without an Origin header (non-browser clients).
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.origins) == 0 {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}

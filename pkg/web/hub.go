package web

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"
)

const (
	// sendBuffer is how many updates may queue for one client before it is
	// considered stalled and dropped.
	sendBuffer   = 8
	writeTimeout = 10 * time.Second
)

type wsClient struct {
	ws   *websocket.Conn
	send chan []byte
	gone atomic.Bool
}

// Hub fans snapshot updates out to connected websocket clients. Each client
// has its own writer goroutine, so Broadcast never waits on the network.
type Hub struct {
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[*wsClient]bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*wsClient]bool)}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues v as JSON for every client. A client whose queue is full
// is dropped.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal websocket update", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping stalled websocket client", "remote", c.ws.Request().RemoteAddr)
			h.removeLocked(c)
			// Unblocks the writer and the read loop without waiting on them.
			c.ws.SetDeadline(time.Now())
		}
	}
}

func (h *Hub) removeLocked(c *wsClient) {
	if h.clients[c] {
		delete(h.clients, c)
		c.gone.Store(true)
		close(c.send)
	}
}

// Handler accepts websocket clients. Each new client first receives
// current(), then every broadcast until it disconnects or falls behind.
func (h *Hub) Handler(current func() any) websocket.Handler {
	return func(ws *websocket.Conn) {
		defer ws.Close()

		data, err := json.Marshal(current())
		if err != nil {
			return
		}

		c := &wsClient{ws: ws, send: make(chan []byte, sendBuffer)}
		h.mu.Lock()
		c.send <- data
		h.clients[c] = true
		h.mu.Unlock()

		defer func() {
			h.mu.Lock()
			h.removeLocked(c)
			h.mu.Unlock()
		}()

		go h.writeLoop(c)

		// Clients only listen; reading detects the disconnect.
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	for data := range c.send {
		if c.gone.Load() {
			return
		}
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := websocket.Message.Send(c.ws, string(data)); err != nil {
			h.logger.Debug("websocket write failed", "remote", c.ws.Request().RemoteAddr, "error", err)
			// Fails the read loop, which unregisters the client.
			c.ws.SetDeadline(time.Now())
			return
		}
	}
}
